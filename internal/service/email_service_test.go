package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
)

// MockEmailService реализует EmailService
type MockEmailService struct {
	mock.Mock
	sent chan string
}

func (m *MockEmailService) SendEscalationAlert(ctx context.Context, to string, q *entity.Question) error {
	args := m.Called(ctx, to, q)
	m.sent <- q.ID
	return args.Error(0)
}

func TestEscalationNotifier_SendsOnEscalation(t *testing.T) {
	// Arrange
	email := &MockEmailService{sent: make(chan string, 4)}
	email.On("SendEscalationAlert", mock.Anything, "teachers@example.com", mock.AnythingOfType("*entity.Question")).Return(nil)
	s := newTestStack(t, staticGen("unsure", 0.1), time.Second)
	s.lifecycle.OnTransition(NewEscalationNotifier(email, "teachers@example.com"))

	// Act
	q, _, err := s.questions.Submit(context.Background(), "s1", "question", "")
	require.NoError(t, err)
	s.drain(t)

	// Assert
	select {
	case id := <-email.sent:
		assert.Equal(t, q.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("письмо не отправлено")
	}
	select {
	case id := <-email.sent:
		t.Fatalf("лишнее письмо для %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEscalationNotifier_IgnoresOtherTransitions(t *testing.T) {
	email := &MockEmailService{sent: make(chan string, 4)}
	s := newTestStack(t, staticGen("sure", 0.99), time.Second)
	s.lifecycle.OnTransition(NewEscalationNotifier(email, "teachers@example.com"))
	s.lifecycle.OnTransition(NewEscalationNotifier(email, ""))

	_, _, err := s.questions.Submit(context.Background(), "s1", "question", "")
	require.NoError(t, err)
	s.drain(t)

	time.Sleep(50 * time.Millisecond)
	email.AssertNotCalled(t, "SendEscalationAlert", mock.Anything, mock.Anything, mock.Anything)
}

func TestEscalationReasonLabel(t *testing.T) {
	for _, reason := range []entity.EscalationReason{
		entity.EscalationReasonLowConfidence,
		entity.EscalationReasonAutoAnswerFailed,
		entity.EscalationReasonAutoAnswerTimeout,
		entity.EscalationReasonInterrupted,
	} {
		assert.NotEqual(t, string(reason), escalationReasonLabel(reason), "У причины есть человекочитаемая подпись")
	}
}

func TestNoopEmailService(t *testing.T) {
	q, err := entity.NewQuestion("q-1", "s1", "question", testNow)
	require.NoError(t, err)
	assert.NoError(t, (&NoopEmailService{}).SendEscalationAlert(context.Background(), "x@example.com", q))
}
