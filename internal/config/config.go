package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config хранит все настройки приложения
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Answering   AnsweringConfig   `mapstructure:"answering"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Email       EmailConfig       `mapstructure:"email"`
	Reporting   ReportingConfig   `mapstructure:"reporting"`
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     int           `mapstructure:"read_timeout"`
	WriteTimeout    int           `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig содержит унифицированные настройки подключения к Redis
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	// Enabled выключает Redis целиком: идемпотентность, rate limit и кластерный relay
	Enabled bool `mapstructure:"enabled"`

	// Mode: Режим работы Redis ("single", "sentinel", "cluster"). По умолчанию "single".
	Mode string `mapstructure:"mode"`

	// Addrs: Список адресов Redis (хост:порт). Используется для всех режимов.
	Addrs []string `mapstructure:"addrs"`

	// Addr: Альтернативный адрес для режима 'single'.
	Addr string `mapstructure:"addr"`

	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// MasterName: Имя мастер-сервера Redis (только для режима "sentinel")
	MasterName string `mapstructure:"master_name"`

	MaxRetries      int `mapstructure:"max_retries"`
	MinRetryBackoff int `mapstructure:"min_retry_backoff"` // мс
	MaxRetryBackoff int `mapstructure:"max_retry_backoff"` // мс
}

// StorageConfig выбирает реализацию хранилища вопросов
type StorageConfig struct {
	// Driver: "postgres" или "memory"
	Driver string `mapstructure:"driver"`
}

// AuthConfig содержит параметры проверки токенов внешнего сервиса идентификации
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// AnsweringConfig содержит настройки автоответов
type AnsweringConfig struct {
	// Mode: "http" (внешний RAG сервис) или "static" (фиксированный ответ для разработки)
	Mode                string        `mapstructure:"mode"`
	Endpoint            string        `mapstructure:"endpoint"`
	Deadline            time.Duration `mapstructure:"deadline"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	Workers             int           `mapstructure:"workers"`
	QueueSize           int           `mapstructure:"queue_size"`
	StaticAnswer        string        `mapstructure:"static_answer"`
	StaticConfidence    float64       `mapstructure:"static_confidence"`
}

// NotifyConfig содержит настройки рассылки событий подписчикам
type NotifyConfig struct {
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	ReplayBatch      int           `mapstructure:"replay_batch"`
	Cluster          ClusterConfig `mapstructure:"cluster"`
}

// ClusterConfig содержит настройки межинстансной пересылки событий
type ClusterConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	InstanceID string `mapstructure:"instance_id"`
	Channel    string `mapstructure:"channel"`
}

// WebSocketConfig содержит лимиты WebSocket-соединений
type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// IdempotencyConfig задает время жизни ключей Idempotency-Key
type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig ограничивает частоту отправки вопросов
type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// EmailConfig содержит настройки уведомлений учителей по почте
type EmailConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	TeacherInbox string `mapstructure:"teacher_inbox"`
}

// ReportingConfig содержит настройки отправки ошибок в Rollbar
type ReportingConfig struct {
	RollbarToken string `mapstructure:"rollbar_token"`
	Environment  string `mapstructure:"environment"`
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// PostgresURL формирует URL подключения для golang-migrate
func (d *DatabaseConfig) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.read_timeout", 10)
	vip.SetDefault("server.write_timeout", 10)
	vip.SetDefault("server.shutdown_timeout", "15s")
	vip.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.sslmode", "disable")

	vip.SetDefault("redis.enabled", true)
	vip.SetDefault("redis.mode", "single")
	vip.SetDefault("redis.addr", "localhost:6379")

	vip.SetDefault("storage.driver", "postgres")

	vip.SetDefault("answering.mode", "http")
	vip.SetDefault("answering.deadline", "20s")
	vip.SetDefault("answering.confidence_threshold", 0.7)
	vip.SetDefault("answering.workers", 8)
	vip.SetDefault("answering.queue_size", 256)
	vip.SetDefault("answering.static_confidence", 1.0)

	vip.SetDefault("notify.subscriber_buffer", 64)
	vip.SetDefault("notify.replay_batch", 200)
	vip.SetDefault("notify.cluster.channel", "eduquery:transitions")

	vip.SetDefault("websocket.write_wait", "10s")
	vip.SetDefault("websocket.pong_wait", "60s")
	vip.SetDefault("websocket.max_message_size", 512)

	vip.SetDefault("idempotency.ttl", "24h")

	vip.SetDefault("rate_limit.max_requests", 30)
	vip.SetDefault("rate_limit.window", "1m")

	vip.SetDefault("reporting.environment", "development")
}

// Load загружает конфигурацию из .env, файла и переменных окружения
func Load(configPath string) (*Config, error) {
	// .env необязателен: в контейнере переменные приходят из окружения
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Config] Предупреждение: не удалось прочитать .env: %v", err)
	}

	vip := viper.New() // Используем новый экземпляр Viper, чтобы избежать глобального состояния
	setDefaults(vip)

	// Привязываем переменные окружения ЯВНО
	vip.BindEnv("server.port", "SERVER_PORT")

	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")

	vip.BindEnv("redis.enabled", "REDIS_ENABLED")
	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	vip.BindEnv("storage.driver", "STORAGE_DRIVER")

	vip.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	vip.BindEnv("auth.issuer", "AUTH_ISSUER")

	vip.BindEnv("answering.mode", "ANSWERING_MODE")
	vip.BindEnv("answering.endpoint", "ANSWERING_ENDPOINT")
	vip.BindEnv("answering.deadline", "ANSWERING_DEADLINE")
	vip.BindEnv("answering.confidence_threshold", "ANSWERING_CONFIDENCE_THRESHOLD")
	vip.BindEnv("answering.workers", "ANSWERING_WORKERS")

	vip.BindEnv("notify.cluster.enabled", "NOTIFY_CLUSTER_ENABLED")
	vip.BindEnv("notify.cluster.instance_id", "NOTIFY_CLUSTER_INSTANCE_ID")

	vip.BindEnv("email.resend_api_key", "RESEND_API_KEY")
	vip.BindEnv("email.from", "EMAIL_FROM")
	vip.BindEnv("email.teacher_inbox", "EMAIL_TEACHER_INBOX")

	vip.BindEnv("reporting.rollbar_token", "ROLLBAR_TOKEN")
	vip.BindEnv("reporting.environment", "APP_ENV")

	if configPath != "" {
		vip.SetConfigFile(configPath)
		// Файл не обязателен, т.к. есть BindEnv
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				log.Printf("[Config] Файл конфигурации '%s' не найден, используются переменные окружения/умолчания.", configPath)
			} else {
				log.Printf("[Config] Предупреждение: не удалось прочитать файл конфигурации '%s': %v", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if os.Getenv("GIN_MODE") != "release" {
		log.Printf("--- Загруженные значения конфигурации ---")
		log.Printf("Storage Driver: %s", cfg.Storage.Driver)
		log.Printf("Database Host: %s", cfg.Database.Host)
		log.Printf("Database Name: %s", cfg.Database.DBName)
		log.Printf("Redis Enabled: %t (mode: %s, addr: %s)", cfg.Redis.Enabled, cfg.Redis.Mode, cfg.Redis.Addr)
		log.Printf("Answering Mode: %s, deadline: %s, threshold: %.2f", cfg.Answering.Mode, cfg.Answering.Deadline, cfg.Answering.ConfidenceThreshold)
		log.Printf("Notify Cluster Enabled: %t", cfg.Notify.Cluster.Enabled)
		log.Printf("Server Port: %s", cfg.Server.Port)
		log.Printf("-----------------------------------------")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет обязательные параметры и диапазоны значений
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret is required (check AUTH_JWT_SECRET env var)")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
			return fmt.Errorf("database configuration (host, dbname, user) is incomplete (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	a := c.Answering
	if a.ConfidenceThreshold < 0 || a.ConfidenceThreshold > 1 {
		return fmt.Errorf("answering.confidence_threshold must be within [0,1], got %v", a.ConfidenceThreshold)
	}
	if a.Deadline <= 0 {
		return fmt.Errorf("answering.deadline must be positive, got %s", a.Deadline)
	}
	if a.Workers <= 0 {
		return fmt.Errorf("answering.workers must be positive, got %d", a.Workers)
	}
	switch a.Mode {
	case "http":
		if a.Endpoint == "" {
			return fmt.Errorf("answering.endpoint is required in http mode (check ANSWERING_ENDPOINT env var)")
		}
	case "static":
		if a.StaticConfidence < 0 || a.StaticConfidence > 1 {
			return fmt.Errorf("answering.static_confidence must be within [0,1], got %v", a.StaticConfidence)
		}
	default:
		return fmt.Errorf("unsupported answering mode: %q", a.Mode)
	}

	if c.Notify.Cluster.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("notify.cluster requires redis to be enabled")
	}
	if c.Notify.SubscriberBuffer <= 0 {
		return fmt.Errorf("notify.subscriber_buffer must be positive, got %d", c.Notify.SubscriberBuffer)
	}
	return nil
}
