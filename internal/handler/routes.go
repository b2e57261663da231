package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/eduquery-api/internal/middleware"
	"github.com/yourusername/eduquery-api/pkg/auth"
)

// Routes собирает обработчики и middleware для регистрации маршрутов
type Routes struct {
	Questions     *QuestionHandler
	Teacher       *TeacherHandler
	WS            *WSHandler
	Auth          *middleware.AuthMiddleware
	RateLimiter   *middleware.RateLimiter
	QuestionLimit middleware.RateLimitConfig
}

// Register настраивает маршруты API
func (r Routes) Register(router *gin.Engine) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", r.Auth.RequireAuth())
	{
		questions := api.Group("/questions")
		{
			// Учитель может открыть любой вопрос, остальное только студенту
			questions.GET("/:id", middleware.ExtractUUIDParam("id", "questionID"), r.Questions.Get)

			own := questions.Group("", r.Auth.RequireRole(auth.RoleStudent))
			own.POST("", r.RateLimiter.Limit(r.QuestionLimit), r.Questions.Submit)
			own.GET("", r.Questions.List)
			own.GET("/events", r.Questions.Events)
		}

		teacher := api.Group("/teacher", r.Auth.RequireRole(auth.RoleTeacher))
		{
			teacher.GET("/queue", r.Teacher.Queue)
			teacher.PUT("/queue/:id", middleware.ExtractUUIDParam("id", "questionID"), r.Teacher.Answer)
			teacher.GET("/answers", r.Teacher.Answers)
			teacher.GET("/stats", r.Teacher.Stats)
			teacher.GET("/export", r.Teacher.Export)
		}
	}

	// WebSocket маршрут, токен передается в ?token=
	router.GET("/ws", r.Auth.RequireAuth(), r.Auth.RequireRole(auth.RoleStudent), r.WS.HandleConnection)
}
