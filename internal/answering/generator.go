// Package answering содержит клиентов внешнего сервиса автоответов (RAG).
// Внутренности модели (эмбеддинги, поиск, генерация) живут за этим интерфейсом.
package answering

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ErrEmptyAnswer возвращается, когда генератор ответил пустым текстом
var ErrEmptyAnswer = errors.New("generator returned empty answer")

// Request - запрос на автоответ для одного вопроса
type Request struct {
	QuestionID string
	AskerID    string
	Text       string
}

// Answer - результат генерации
type Answer struct {
	Text       string
	Confidence float64
}

// Generator генерирует ответ на вопрос. Реализация обязана уважать ctx:
// по истечении дедлайна попытка считается просроченной.
type Generator interface {
	Generate(ctx context.Context, req Request) (Answer, error)
}

// GeneratorFunc позволяет использовать функцию как Generator
type GeneratorFunc func(ctx context.Context, req Request) (Answer, error)

// Generate вызывает f(ctx, req)
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Answer, error) {
	return f(ctx, req)
}

// Normalize обрезает текст ответа и приводит уверенность к [0,1].
// Пустой ответ считается неудачной попыткой.
func Normalize(a Answer) (Answer, error) {
	a.Text = strings.TrimSpace(a.Text)
	if a.Text == "" {
		return Answer{}, ErrEmptyAnswer
	}
	switch {
	case math.IsNaN(a.Confidence), a.Confidence < 0:
		a.Confidence = 0
	case a.Confidence > 1:
		a.Confidence = 1
	}
	return a, nil
}
