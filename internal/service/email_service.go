package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/pkg/reporting"
)

const escalationAlertTimeout = 30 * time.Second

// EmailService отправляет уведомления учителям
type EmailService interface {
	SendEscalationAlert(ctx context.Context, to string, q *entity.Question) error
}

// NoopEmailService используется, когда почтовые уведомления выключены
type NoopEmailService struct{}

func (s *NoopEmailService) SendEscalationAlert(ctx context.Context, to string, q *entity.Question) error {
	log.Printf("[EmailService] noop escalation alert to=%s question=%s", to, q.ID)
	return nil
}

// ResendEmailService sends emails via Resend REST API.
type ResendEmailService struct {
	from   string
	client *resend.Client
}

func NewResendEmailService(apiKey, from string) (*ResendEmailService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend api key is required")
	}
	if from == "" {
		return nil, fmt.Errorf("email from is required")
	}
	return &ResendEmailService{
		from:   from,
		client: resend.NewClient(apiKey),
	}, nil
}

func (s *ResendEmailService) SendEscalationAlert(ctx context.Context, to string, q *entity.Question) error {
	if to == "" {
		return fmt.Errorf("recipient is required")
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{to},
		Subject: "New question is waiting for a teacher",
		Text:    escalationText(q),
		Html:    escalationHTML(q),
	}
	// Один вопрос эскалируется один раз, ключ защищает от повторов при ретраях
	options := &resend.SendEmailOptions{IdempotencyKey: "escalation-" + q.ID}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		_, err := s.client.Emails.SendWithOptions(ctx, params, options)
		if err == nil {
			return nil
		}
		lastErr = err

		if wait, ok := resendRetryDelay(err, attempt); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return fmt.Errorf("resend send failed: %w", err)
	}

	return fmt.Errorf("resend send failed after retries: %w", lastErr)
}

func escalationText(q *entity.Question) string {
	return fmt.Sprintf("Question %s from student %s needs a teacher answer (reason: %s).\n\n%s",
		q.ID, q.AskerID, escalationReasonLabel(q.EscalationReason), q.Text)
}

func escalationHTML(q *entity.Question) string {
	return fmt.Sprintf("<p>Question <code>%s</code> from student <strong>%s</strong> needs a teacher answer.</p><p>Reason: %s</p><blockquote>%s</blockquote>",
		html.EscapeString(q.ID), html.EscapeString(q.AskerID),
		html.EscapeString(escalationReasonLabel(q.EscalationReason)), html.EscapeString(q.Text))
}

func escalationReasonLabel(reason entity.EscalationReason) string {
	switch reason {
	case entity.EscalationReasonLowConfidence:
		return "auto answer confidence is too low"
	case entity.EscalationReasonAutoAnswerFailed:
		return "auto answer failed"
	case entity.EscalationReasonAutoAnswerTimeout:
		return "auto answer timed out"
	case entity.EscalationReasonInterrupted:
		return "auto answer was interrupted"
	default:
		return string(reason)
	}
}

func resendRetryDelay(err error, attempt int) (time.Duration, bool) {
	var rateLimitErr *resend.RateLimitError
	if errors.As(err, &rateLimitErr) {
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(rateLimitErr.RetryAfter)); convErr == nil && seconds > 0 {
			if seconds > 30 {
				seconds = 30
			}
			return time.Duration(seconds) * time.Second, true
		}
		return time.Duration(attempt+1) * time.Second, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "temporar") {
		return time.Duration(attempt+1) * 500 * time.Millisecond, true
	}

	return 0, false
}

// NewEscalationNotifier возвращает хук, который уведомляет учителей
// о каждом новом escalated вопросе. Письмо уходит в фоне.
func NewEscalationNotifier(email EmailService, inbox string) TransitionHook {
	return func(q *entity.Question, ev entity.StateTransition) {
		if ev.To != entity.QuestionStateEscalated || inbox == "" {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), escalationAlertTimeout)
			defer cancel()
			if err := email.SendEscalationAlert(ctx, inbox, q); err != nil {
				reporting.Error("EmailService", fmt.Errorf("escalation alert for question %s: %w", q.ID, err), nil)
			}
		}()
	}
}
