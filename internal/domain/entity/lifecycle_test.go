package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

var allStates = []QuestionState{
	QuestionStateAsked,
	QuestionStateAutoAnswered,
	QuestionStateEscalated,
	QuestionStateResolved,
	QuestionStateFailed,
}

func TestValidateTransition_ValidMatrix(t *testing.T) {
	valid := [][2]QuestionState{
		{"", QuestionStateAsked},
		{QuestionStateAsked, QuestionStateAutoAnswered},
		{QuestionStateAsked, QuestionStateEscalated},
		{QuestionStateAutoAnswered, QuestionStateResolved},
		{QuestionStateAutoAnswered, QuestionStateEscalated},
		{QuestionStateEscalated, QuestionStateResolved},
	}
	for _, pair := range valid {
		assert.NoError(t, ValidateTransition(pair[0], pair[1]), "%s -> %s должен быть разрешен", pair[0], pair[1])
	}
}

func TestValidateTransition_EverythingElseIsInvalid(t *testing.T) {
	legal := map[[2]QuestionState]bool{
		{QuestionStateAsked, QuestionStateAutoAnswered}:     true,
		{QuestionStateAsked, QuestionStateEscalated}:        true,
		{QuestionStateAutoAnswered, QuestionStateResolved}:  true,
		{QuestionStateAutoAnswered, QuestionStateEscalated}: true,
		{QuestionStateEscalated, QuestionStateResolved}:     true,
	}
	for _, from := range allStates {
		for _, to := range allStates {
			if legal[[2]QuestionState{from, to}] {
				continue
			}
			err := ValidateTransition(from, to)
			assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "%s -> %s должен быть запрещен", from, to)
		}
	}
}

func TestValidateTransition_UnknownState(t *testing.T) {
	assert.ErrorIs(t, ValidateTransition("archived", QuestionStateResolved), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, ValidateState("archived"), apperrors.ErrValidation)
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("auto")
	assert.NoError(t, err)
	assert.Equal(t, ResolutionAuto, r)

	_, err = ParseResolution("rag")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
