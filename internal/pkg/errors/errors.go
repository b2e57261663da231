package errors

import "errors"

// Общие ошибки приложения
var (
	// ErrNotFound используется, когда запись или ресурс не найдены.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized используется для ошибок авторизации (неверный токен, нет прав).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden используется, когда у пользователя недостаточно прав для действия.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation используется для ошибок валидации входных данных.
	// Такие данные никогда не сохраняются.
	ErrValidation = errors.New("validation failed")

	// ErrConflict используется для конфликтов состояния, не связанных с жизненным циклом вопроса
	// (например, повторная отправка с тем же Idempotency-Key, пока первая еще обрабатывается).
	ErrConflict = errors.New("resource state conflict")
)

// Ошибки жизненного цикла вопроса
var (
	// ErrInvalidTransition означает попытку перехода, которого нет в машине состояний.
	// Состояние вопроса при этом не меняется.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotEscalated возвращается учителю, если вопрос еще не передан на ручную проверку.
	ErrNotEscalated = errors.New("question is not escalated")

	// ErrAlreadyResolved возвращается при повторной отправке ответа на уже закрытый вопрос.
	ErrAlreadyResolved = errors.New("question is already resolved")
)
