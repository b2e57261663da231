package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eduquery-api/internal/domain/entity"
	"github.com/yourusername/eduquery-api/internal/handler/dto"
	"github.com/yourusername/eduquery-api/internal/handler/helper"
	"github.com/yourusername/eduquery-api/internal/middleware"
	"github.com/yourusername/eduquery-api/internal/service"
)

// MetricsSource отдает счетчики рассылки событий
type MetricsSource interface {
	Snapshot() map[string]interface{}
}

// TeacherHandler обрабатывает запросы панели учителя
type TeacherHandler struct {
	queue     *service.ReviewQueue
	export    *service.ExportService
	metrics   MetricsSource
	threshold float64
}

// NewTeacherHandler создает обработчик панели учителя
func NewTeacherHandler(queue *service.ReviewQueue, export *service.ExportService, metrics MetricsSource, threshold float64) *TeacherHandler {
	return &TeacherHandler{
		queue:     queue,
		export:    export,
		metrics:   metrics,
		threshold: threshold,
	}
}

// Queue возвращает вопросы, ожидающие ответа учителя
// GET /api/teacher/queue?page=1&page_size=20
func (h *TeacherHandler) Queue(c *gin.Context) {
	page, pageSize := helper.ParsePagination(c)
	questions, err := h.queue.ListPending(c.Request.Context(), pageSize, helper.Offset(page, pageSize))
	if err != nil {
		handleError(c, "TeacherHandler", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedTeacherQuestionResponse(questions, page, pageSize))
}

// Answer закрывает вопрос ответом учителя
// PUT /api/teacher/queue/:id
func (h *TeacherHandler) Answer(c *gin.Context) {
	var req dto.AnswerQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}

	q, err := h.queue.Answer(c.Request.Context(), c.GetString("questionID"), middleware.UserID(c), req.Answer)
	if err != nil {
		handleError(c, "TeacherHandler", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewTeacherQuestionResponse(q))
}

// Answers возвращает закрытые вопросы
// GET /api/teacher/answers?resolution=auto|teacher
func (h *TeacherHandler) Answers(c *gin.Context) {
	page, pageSize := helper.ParsePagination(c)
	resolution := entity.Resolution(c.DefaultQuery("resolution", string(entity.ResolutionTeacher)))
	questions, err := h.queue.ListResolved(c.Request.Context(), resolution, pageSize, helper.Offset(page, pageSize))
	if err != nil {
		handleError(c, "TeacherHandler", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedTeacherQuestionResponse(questions, page, pageSize))
}

// Stats возвращает счетчики вопросов по состояниям и метрики рассылки
// GET /api/teacher/stats
func (h *TeacherHandler) Stats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		handleError(c, "TeacherHandler", err)
		return
	}
	resp := gin.H{
		"questions":            stats,
		"confidence_threshold": h.threshold,
	}
	if h.metrics != nil {
		resp["notifications"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// Export отдает очередь и историю ответов в XLSX
// GET /api/teacher/export
func (h *TeacherHandler) Export(c *gin.Context) {
	// Книга собирается целиком до отправки, чтобы ошибка не оборвала файл на середине
	var buf bytes.Buffer
	if err := h.export.WriteXLSX(c.Request.Context(), &buf); err != nil {
		handleError(c, "TeacherHandler", err)
		return
	}

	filename := fmt.Sprintf("questions_%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
