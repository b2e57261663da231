package answering

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBody = 512

type httpRequest struct {
	QuestionID string `json:"question_id"`
	AskerID    string `json:"asker_id"`
	Question   string `json:"question"`
}

// httpResponse принимает оба формата: {answer, confidence} и ответ
// python-сервиса с similarity_score
type httpResponse struct {
	Answer          string   `json:"answer"`
	Confidence      *float64 `json:"confidence"`
	SimilarityScore *float64 `json:"similarity_score"`
}

// HTTPGenerator обращается к внешнему RAG сервису по HTTP
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGenerator создает клиента. Таймаут задается контекстом попытки,
// поэтому у http.Client он не выставляется.
func NewHTTPGenerator(endpoint string, client *http.Client) (*HTTPGenerator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("answering endpoint is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPGenerator{endpoint: endpoint, client: client}, nil
}

// Generate отправляет вопрос и разбирает ответ сервиса
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Answer, error) {
	body, err := json.Marshal(httpRequest{
		QuestionID: req.QuestionID,
		AskerID:    req.AskerID,
		Question:   req.Text,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("marshal generator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return Answer{}, fmt.Errorf("build generator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Answer{}, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Answer{}, fmt.Errorf("generator responded %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var parsed httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Answer{}, fmt.Errorf("decode generator response: %w", err)
	}

	answer := Answer{Text: parsed.Answer}
	switch {
	case parsed.Confidence != nil:
		answer.Confidence = *parsed.Confidence
	case parsed.SimilarityScore != nil:
		answer.Confidence = *parsed.SimilarityScore
	}
	return Normalize(answer)
}
