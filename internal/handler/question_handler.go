package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eduquery-api/internal/handler/dto"
	"github.com/yourusername/eduquery-api/internal/handler/helper"
	"github.com/yourusername/eduquery-api/internal/middleware"
	"github.com/yourusername/eduquery-api/internal/service"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 500
)

// QuestionHandler обрабатывает запросы студентов
type QuestionHandler struct {
	questions *service.QuestionService
}

// NewQuestionHandler создает новый обработчик вопросов
func NewQuestionHandler(questions *service.QuestionService) *QuestionHandler {
	return &QuestionHandler{questions: questions}
}

// Submit создает вопрос
// POST /api/questions
func (h *QuestionHandler) Submit(c *gin.Context) {
	var req dto.SubmitQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}

	q, created, err := h.questions.Submit(c.Request.Context(), middleware.UserID(c), req.Text, c.GetHeader("Idempotency-Key"))
	if err != nil {
		handleError(c, "QuestionHandler", err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, dto.NewQuestionResponse(q))
}

// List возвращает историю вопросов студента, старые первыми
// GET /api/questions?page=1&page_size=20
func (h *QuestionHandler) List(c *gin.Context) {
	page, pageSize := helper.ParsePagination(c)
	questions, err := h.questions.History(c.Request.Context(), middleware.UserID(c), pageSize, helper.Offset(page, pageSize))
	if err != nil {
		handleError(c, "QuestionHandler", err)
		return
	}
	c.JSON(http.StatusOK, dto.NewPaginatedQuestionResponse(questions, page, pageSize))
}

// Get возвращает вопрос. Учитель получает полную карточку.
// GET /api/questions/:id
func (h *QuestionHandler) Get(c *gin.Context) {
	viewer := service.Viewer{ID: middleware.UserID(c), Teacher: middleware.IsTeacher(c)}
	q, err := h.questions.Get(c.Request.Context(), c.GetString("questionID"), viewer)
	if err != nil {
		handleError(c, "QuestionHandler", err)
		return
	}
	if viewer.Teacher {
		c.JSON(http.StatusOK, dto.NewTeacherQuestionResponse(q))
		return
	}
	c.JSON(http.StatusOK, dto.NewQuestionResponse(q))
}

// Events возвращает события студента после курсора. Запрос можно
// повторять с последним полученным курсором.
// GET /api/questions/events?cursor=0&limit=100
func (h *QuestionHandler) Events(c *gin.Context) {
	cursor, err := strconv.ParseUint(c.DefaultQuery("cursor", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor", "error_type": "invalid_cursor"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultEventsLimit)))
	if err != nil || limit < 1 || limit > maxEventsLimit {
		limit = defaultEventsLimit
	}

	events, err := h.questions.Events(c.Request.Context(), middleware.UserID(c), cursor, limit)
	if err != nil {
		handleError(c, "QuestionHandler", err)
		return
	}

	next := cursor
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	c.JSON(http.StatusOK, dto.EventsResponse{Events: events, Cursor: next})
}
