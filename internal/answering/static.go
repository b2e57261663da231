package answering

import "context"

// StaticGenerator всегда возвращает один и тот же ответ.
// Используется в режиме answering.mode=static для локальной разработки.
type StaticGenerator struct {
	Text       string
	Confidence float64
}

// NewStaticGenerator создает генератор с фиксированным ответом
func NewStaticGenerator(text string, confidence float64) *StaticGenerator {
	if text == "" {
		text = "This is an automatically generated answer."
	}
	return &StaticGenerator{Text: text, Confidence: confidence}
}

// Generate возвращает фиксированный ответ, если ctx еще жив
func (g *StaticGenerator) Generate(ctx context.Context, _ Request) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	return Answer{Text: g.Text, Confidence: g.Confidence}, nil
}
