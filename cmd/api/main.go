package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/yourusername/eduquery-api/internal/answering"
	"github.com/yourusername/eduquery-api/internal/config"
	"github.com/yourusername/eduquery-api/internal/domain/repository"
	"github.com/yourusername/eduquery-api/internal/handler"
	"github.com/yourusername/eduquery-api/internal/middleware"
	"github.com/yourusername/eduquery-api/internal/notify"
	"github.com/yourusername/eduquery-api/internal/pkg/reporting"
	memRepo "github.com/yourusername/eduquery-api/internal/repository/memory"
	pgRepo "github.com/yourusername/eduquery-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/eduquery-api/internal/repository/redis"
	"github.com/yourusername/eduquery-api/internal/service"
	ws "github.com/yourusername/eduquery-api/internal/websocket"
	"github.com/yourusername/eduquery-api/pkg/auth"
	"github.com/yourusername/eduquery-api/pkg/database"
)

const reconcileInterval = time.Minute

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	reporting.Init(cfg.Reporting.RollbarToken, cfg.Reporting.Environment)
	defer reporting.Close()

	// appCtx живет до сигнала остановки. От него наследуются контексты
	// запросов, поэтому WebSocket подписки закрываются вместе с сервером.
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Хранилище вопросов
	var questionRepo repository.QuestionRepository
	switch cfg.Storage.Driver {
	case "memory":
		log.Println("[Storage] Используется хранилище в памяти, данные не переживут перезапуск")
		questionRepo = memRepo.NewQuestionRepo()
	default:
		db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
		if err != nil {
			log.Printf("Failed to connect to database: %v", err)
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(db); err != nil {
				log.Printf("Error closing database: %v", err)
			}
		}()
		if err := database.MigrateDB(db, database.DefaultMigrationsSource); err != nil {
			log.Printf("Failed to migrate database: %v", err)
			os.Exit(1)
		}
		questionRepo = pgRepo.NewQuestionRepo(db)
	}

	// Redis нужен для идемпотентности, rate limit и кластерного relay
	var redisClient redis.UniversalClient
	var cacheRepo repository.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err = database.NewUniversalRedisClient(cfg.Redis)
		if err != nil {
			log.Printf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		log.Println("Successfully connected to Redis")

		cacheRepo, err = redisRepo.NewCacheRepo(redisClient)
		if err != nil {
			log.Printf("Failed to initialize CacheRepo: %v", err)
			os.Exit(1)
		}
	} else {
		log.Println("[Redis] Redis отключен: Idempotency-Key и rate limit не применяются")
	}

	// Рассылка событий
	var pubSubProvider notify.PubSubProvider = &notify.NoOpPubSub{}
	if cfg.Notify.Cluster.Enabled {
		pubSubProvider, err = notify.NewRedisPubSub(redisClient)
		if err != nil {
			log.Printf("Failed to initialize Redis PubSub: %v", err)
			os.Exit(1)
		}
	}
	broker := notify.NewBroker(questionRepo, pubSubProvider, notify.Config{
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
		ReplayBatch:      cfg.Notify.ReplayBatch,
		ClusterEnabled:   cfg.Notify.Cluster.Enabled,
		InstanceID:       cfg.Notify.Cluster.InstanceID,
		Channel:          cfg.Notify.Cluster.Channel,
	})
	if err := broker.Start(appCtx); err != nil {
		log.Printf("Failed to start notification broker: %v", err)
		os.Exit(1)
	}

	// Генератор автоответов
	var generator answering.Generator
	switch cfg.Answering.Mode {
	case "static":
		log.Println("[Answering] Используется статический генератор ответов")
		generator = answering.NewStaticGenerator(cfg.Answering.StaticAnswer, cfg.Answering.StaticConfidence)
	default:
		generator, err = answering.NewHTTPGenerator(cfg.Answering.Endpoint, &http.Client{})
		if err != nil {
			log.Printf("Failed to initialize answer generator: %v", err)
			os.Exit(1)
		}
	}

	// Сервисы
	lifecycle := service.NewLifecycle(questionRepo, broker)

	var emailService service.EmailService = &service.NoopEmailService{}
	if cfg.Email.ResendAPIKey != "" {
		emailService, err = service.NewResendEmailService(cfg.Email.ResendAPIKey, cfg.Email.From)
		if err != nil {
			log.Printf("Failed to initialize email service: %v", err)
			os.Exit(1)
		}
	}
	lifecycle.OnTransition(service.NewEscalationNotifier(emailService, cfg.Email.TeacherInbox))

	router, err := service.NewEscalationRouter(cfg.Answering.ConfidenceThreshold)
	if err != nil {
		log.Printf("Failed to initialize escalation router: %v", err)
		os.Exit(1)
	}
	attempter, err := service.NewAttempter(generator, lifecycle, router, service.AttempterConfig{
		Deadline:  cfg.Answering.Deadline,
		Workers:   cfg.Answering.Workers,
		QueueSize: cfg.Answering.QueueSize,
	})
	if err != nil {
		log.Printf("Failed to initialize attempter: %v", err)
		os.Exit(1)
	}
	attempter.Start()

	// Вопросы, застрявшие после прошлого запуска
	if fixed, err := attempter.Reconcile(appCtx, questionRepo); err != nil {
		reporting.Error("Startup", err, nil)
	} else if fixed > 0 {
		log.Printf("[Startup] Восстановлено %d вопросов после перезапуска", fixed)
	}
	go attempter.RunReconciler(appCtx, questionRepo, reconcileInterval)

	questionService := service.NewQuestionService(questionRepo, lifecycle, attempter, cacheRepo, cfg.Idempotency.TTL)
	reviewQueue := service.NewReviewQueue(questionRepo, lifecycle)
	exportService := service.NewExportService(questionRepo)

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Printf("Failed to initialize token verifier: %v", err)
		os.Exit(1)
	}

	if err := handler.RegisterValidators(); err != nil {
		log.Printf("Failed to register validators: %v", err)
		os.Exit(1)
	}

	// Инициализируем роутер Gin
	engine := gin.Default()

	// В production не доверяем прокси-заголовкам, в разработке доверяем localhost
	trustedProxies := []string{"127.0.0.1", "::1"}
	if gin.Mode() == gin.ReleaseMode {
		trustedProxies = nil
	}
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		log.Printf("Warning: failed to set trusted proxies: %v", err)
	}

	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler.Routes{
		Questions: handler.NewQuestionHandler(questionService),
		Teacher:   handler.NewTeacherHandler(reviewQueue, exportService, broker.Metrics(), router.Threshold()),
		WS: handler.NewWSHandler(broker,
			ws.NewClientConfig(cfg.WebSocket.WriteWait, cfg.WebSocket.PongWait, cfg.WebSocket.MaxMessageSize),
			cfg.Server.AllowedOrigins),
		Auth:          middleware.NewAuthMiddleware(verifier),
		RateLimiter:   middleware.NewRateLimiter(redisClient),
		QuestionLimit: middleware.QuestionRateLimitConfig(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
	}.Register(engine)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks.
	// WriteTimeout не распространяется на WebSocket после upgrade.
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BaseContext:  func(net.Listener) context.Context { return appCtx },
	}

	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-appCtx.Done():
	}
	log.Println("Shutting down server...")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Сначала перестаем принимать запросы, затем закрываем подписки
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}
	cancel()

	// Дожидаемся начатых попыток автоответа, иначе их вопросы
	// дождутся только следующего Reconcile
	if err := attempter.Wait(shutdownCtx); err != nil {
		log.Printf("Attempter drain incomplete: %v", err)
	}

	broker.Stop()
	if err := pubSubProvider.Close(); err != nil {
		log.Printf("Error closing PubSub provider: %v", err)
	}

	log.Println("Server exited properly")
}
