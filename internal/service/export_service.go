package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
)

const exportBatch = 500

// ExportService выгружает очередь и историю ответов в XLSX
type ExportService struct {
	repo repository.QuestionRepository
}

// NewExportService создает сервис выгрузки
func NewExportService(repo repository.QuestionRepository) *ExportService {
	return &ExportService{repo: repo}
}

type exportSheet struct {
	name    string
	headers []interface{}
	fetch   func(ctx context.Context, limit, offset int) ([]entity.Question, error)
	row     func(q *entity.Question) []interface{}
}

// WriteXLSX пишет книгу с листами "Очередь", "Автоответы" и "Ответы учителей"
func (s *ExportService) WriteXLSX(ctx context.Context, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	sheets := []exportSheet{
		{
			name:    "Очередь",
			headers: []interface{}{"ID", "Студент", "Вопрос", "Причина", "Ошибка", "Создан", "Эскалирован"},
			fetch: func(ctx context.Context, limit, offset int) ([]entity.Question, error) {
				return s.repo.ListByState(ctx, entity.QuestionStateEscalated, limit, offset)
			},
			row: func(q *entity.Question) []interface{} {
				return []interface{}{q.ID, sanitizeForExcel(q.AskerID), sanitizeForExcel(q.Text),
					string(q.EscalationReason), sanitizeForExcel(q.FailureReason), formatTime(&q.CreatedAt), formatTime(q.EscalatedAt)}
			},
		},
		{
			name:    "Автоответы",
			headers: []interface{}{"ID", "Студент", "Вопрос", "Ответ", "Уверенность", "Создан", "Закрыт"},
			fetch: func(ctx context.Context, limit, offset int) ([]entity.Question, error) {
				return s.repo.ListResolved(ctx, entity.ResolutionAuto, limit, offset)
			},
			row: func(q *entity.Question) []interface{} {
				return []interface{}{q.ID, sanitizeForExcel(q.AskerID), sanitizeForExcel(q.Text),
					sanitizeForExcel(deref(q.AutoAnswer)), confidenceCell(q.Confidence), formatTime(&q.CreatedAt), formatTime(q.ResolvedAt)}
			},
		},
		{
			name:    "Ответы учителей",
			headers: []interface{}{"ID", "Студент", "Вопрос", "Ответ учителя", "Учитель", "Автоответ", "Уверенность", "Создан", "Закрыт"},
			fetch: func(ctx context.Context, limit, offset int) ([]entity.Question, error) {
				return s.repo.ListResolved(ctx, entity.ResolutionTeacher, limit, offset)
			},
			row: func(q *entity.Question) []interface{} {
				return []interface{}{q.ID, sanitizeForExcel(q.AskerID), sanitizeForExcel(q.Text),
					sanitizeForExcel(deref(q.TeacherAnswer)), sanitizeForExcel(deref(q.TeacherID)),
					sanitizeForExcel(deref(q.AutoAnswer)), confidenceCell(q.Confidence),
					formatTime(&q.CreatedAt), formatTime(q.ResolvedAt)}
			},
		},
	}

	for i, sheet := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet.name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet.name); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet.name, err)
		}
		if err := s.writeSheet(ctx, f, sheet); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func (s *ExportService) writeSheet(ctx context.Context, f *excelize.File, sheet exportSheet) error {
	sw, err := f.NewStreamWriter(sheet.name)
	if err != nil {
		return fmt.Errorf("create stream writer for %s: %w", sheet.name, err)
	}
	if err := sw.SetRow("A1", sheet.headers); err != nil {
		return fmt.Errorf("write headers for %s: %w", sheet.name, err)
	}

	rowNum := 2
	for offset := 0; ; offset += exportBatch {
		questions, err := sheet.fetch(ctx, exportBatch, offset)
		if err != nil {
			return fmt.Errorf("load questions for %s: %w", sheet.name, err)
		}
		for i := range questions {
			cell, _ := excelize.CoordinatesToCellName(1, rowNum)
			if err := sw.SetRow(cell, sheet.row(&questions[i])); err != nil {
				log.Printf("[ExportService] Ошибка записи строки %d листа %s: %v", rowNum, sheet.name, err)
			}
			rowNum++
		}
		if len(questions) < exportBatch {
			break
		}
	}
	return sw.Flush()
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func confidenceCell(c *float64) interface{} {
	if c == nil {
		return ""
	}
	return *c
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
