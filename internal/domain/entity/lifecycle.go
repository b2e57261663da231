package entity

import (
	"fmt"

	apperrors "github.com/yourusername/eduquery-api/internal/pkg/errors"
)

// allowedTransitions - единственные допустимые ребра машины состояний вопроса.
// Пустое исходное состояние соответствует созданию вопроса.
var allowedTransitions = map[QuestionState]map[QuestionState]struct{}{
	"": {
		QuestionStateAsked: {},
	},
	QuestionStateAsked: {
		QuestionStateAutoAnswered: {},
		QuestionStateEscalated:    {},
	},
	QuestionStateAutoAnswered: {
		QuestionStateResolved:  {},
		QuestionStateEscalated: {},
	},
	QuestionStateEscalated: {
		QuestionStateResolved: {},
	},
	QuestionStateResolved: {},
	QuestionStateFailed:   {},
}

// ValidateState проверяет, что состояние известно
func ValidateState(state QuestionState) error {
	if state == "" {
		return fmt.Errorf("%w: empty question state", apperrors.ErrValidation)
	}
	if _, ok := allowedTransitions[state]; !ok {
		return fmt.Errorf("%w: unknown question state %q", apperrors.ErrValidation, state)
	}
	return nil
}

// ValidateTransition проверяет переход from -> to
func ValidateTransition(from, to QuestionState) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", apperrors.ErrInvalidTransition, from)
	}
	if _, ok := next[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrInvalidTransition, displayState(from), displayState(to))
	}
	return nil
}

// ParseQuestionState разбирает состояние из строки (например, из query-параметра)
func ParseQuestionState(s string) (QuestionState, error) {
	state := QuestionState(s)
	if err := ValidateState(state); err != nil {
		return "", err
	}
	return state, nil
}

// ParseResolution разбирает способ закрытия вопроса
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case ResolutionAuto, ResolutionTeacher:
		return Resolution(s), nil
	}
	return ResolutionNone, fmt.Errorf("%w: unknown resolution %q", apperrors.ErrValidation, s)
}

func displayState(s QuestionState) string {
	if s == "" {
		return "<none>"
	}
	return string(s)
}
