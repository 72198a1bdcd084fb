// Пакет config — загрузка и валидация конфигурации Yum Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые backend'ы хранилища пакетов.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Config содержит все параметры конфигурации Yum Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера health/metrics (по умолчанию 8050)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Максимальный размер пула подключений
	DBMaxConns int
	// Таймаут проверки подключения при старте
	DBConnectTimeout time.Duration

	// --- Хранилище пакетов ---

	// Backend хранилища: fs или s3
	BlobBackend string
	// Корневая директория fs backend
	BlobDir string
	// Параметры S3 backend (MinIO и совместимые)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	// S3HealthPath — путь health endpoint S3 для dephealth (пусто — без проверки)
	S3HealthPath string

	// --- Генерация индекса ---

	// Корневая директория, в которую пишутся индексы репозиториев
	IndexDir string

	// --- Планировщик ---

	// Количество воркеров пула фоновых задач
	SchedulerPoolSize int
	// Ёмкость очереди пула
	SchedulerQueueSize int
	// Интервал проверки репозиториев, требующих перегенерации индекса
	MetadataInterval time.Duration
	// Интервал запуска очистки старых версий пакетов
	CleanupInterval time.Duration
	// Интервал публикации gauge-метрик планировщика
	MonitoringInterval time.Duration

	// --- Политика хранения ---

	// Значение maxKeepRpms для новых репозиториев (0 — выключено)
	DefaultMaxKeepRpms int
	// Значение maxDaysRpms для новых репозиториев (0 — выключено)
	DefaultMaxDaysRpms int
	// Не удалять самую новую версию группы пакетов по возрасту
	RetentionKeepNewest bool

	// --- Кэш регулярных выражений поиска ---

	PatternCacheSize int
	PatternCacheTTL  time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,cyclop,funlen // линейная загрузка большого числа параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("YM_PORT", 8050)
	if err != nil {
		return nil, fmt.Errorf("YM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("YM_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("YM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("YM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("YM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("YM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.HTTPReadTimeout, err = getEnvDuration("YM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("YM_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("YM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("YM_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("YM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("YM_DB_PORT: %w", err)
	}
	cfg.DBName, err = getEnvRequired("YM_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired("YM_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("YM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("YM_DB_SSL_MODE", "disable")
	cfg.DBMaxConns, err = getEnvInt("YM_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("YM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 {
		return nil, fmt.Errorf("YM_DB_MAX_CONNS: значение должно быть >= 1")
	}
	cfg.DBConnectTimeout, err = getEnvPositiveDuration("YM_DB_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_DB_CONNECT_TIMEOUT: %w", err)
	}

	// --- Хранилище пакетов ---

	cfg.BlobBackend = getEnvDefault("YM_BLOB_BACKEND", BlobBackendFS)
	switch cfg.BlobBackend {
	case BlobBackendFS:
		cfg.BlobDir = getEnvDefault("YM_BLOB_DIR", "/data/blobs")
	case BlobBackendS3:
		cfg.S3Endpoint = getEnvDefault("YM_S3_ENDPOINT", "")
		cfg.S3Region = getEnvDefault("YM_S3_REGION", "us-east-1")
		cfg.S3Bucket, err = getEnvRequired("YM_S3_BUCKET")
		if err != nil {
			return nil, err
		}
		cfg.S3AccessKey, err = getEnvRequired("YM_S3_ACCESS_KEY")
		if err != nil {
			return nil, err
		}
		cfg.S3SecretKey, err = getEnvRequired("YM_S3_SECRET_KEY")
		if err != nil {
			return nil, err
		}
		cfg.S3HealthPath = getEnvDefault("YM_S3_HEALTH_PATH", "/minio/health/live")
		cfg.S3UsePathStyle, err = getEnvBool("YM_S3_USE_PATH_STYLE", true)
		if err != nil {
			return nil, fmt.Errorf("YM_S3_USE_PATH_STYLE: %w", err)
		}
	default:
		return nil, fmt.Errorf("YM_BLOB_BACKEND: недопустимый backend %q, допустимые: fs, s3", cfg.BlobBackend)
	}

	cfg.IndexDir = getEnvDefault("YM_INDEX_DIR", "/data/repodata")

	// --- Планировщик ---

	cfg.SchedulerPoolSize, err = getEnvInt("YM_SCHEDULER_POOL_SIZE", 4)
	if err != nil {
		return nil, fmt.Errorf("YM_SCHEDULER_POOL_SIZE: %w", err)
	}
	if cfg.SchedulerPoolSize < 1 {
		return nil, fmt.Errorf("YM_SCHEDULER_POOL_SIZE: значение должно быть >= 1")
	}
	cfg.SchedulerQueueSize, err = getEnvInt("YM_SCHEDULER_QUEUE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("YM_SCHEDULER_QUEUE_SIZE: %w", err)
	}
	if cfg.SchedulerQueueSize < 1 {
		return nil, fmt.Errorf("YM_SCHEDULER_QUEUE_SIZE: значение должно быть >= 1")
	}
	cfg.MetadataInterval, err = getEnvPositiveDuration("YM_METADATA_INTERVAL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_METADATA_INTERVAL: %w", err)
	}
	cfg.CleanupInterval, err = getEnvPositiveDuration("YM_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("YM_CLEANUP_INTERVAL: %w", err)
	}
	cfg.MonitoringInterval, err = getEnvPositiveDuration("YM_MONITORING_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_MONITORING_INTERVAL: %w", err)
	}

	// --- Политика хранения ---

	cfg.DefaultMaxKeepRpms, err = getEnvInt("YM_DEFAULT_MAX_KEEP_RPMS", 0)
	if err != nil {
		return nil, fmt.Errorf("YM_DEFAULT_MAX_KEEP_RPMS: %w", err)
	}
	if cfg.DefaultMaxKeepRpms < 0 {
		return nil, fmt.Errorf("YM_DEFAULT_MAX_KEEP_RPMS: значение должно быть >= 0")
	}
	cfg.DefaultMaxDaysRpms, err = getEnvInt("YM_DEFAULT_MAX_DAYS_RPMS", 0)
	if err != nil {
		return nil, fmt.Errorf("YM_DEFAULT_MAX_DAYS_RPMS: %w", err)
	}
	if cfg.DefaultMaxDaysRpms < 0 {
		return nil, fmt.Errorf("YM_DEFAULT_MAX_DAYS_RPMS: значение должно быть >= 0")
	}
	cfg.RetentionKeepNewest, err = getEnvBool("YM_RETENTION_KEEP_NEWEST", true)
	if err != nil {
		return nil, fmt.Errorf("YM_RETENTION_KEEP_NEWEST: %w", err)
	}

	// --- Кэш регулярных выражений ---

	cfg.PatternCacheSize, err = getEnvInt("YM_PATTERN_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("YM_PATTERN_CACHE_SIZE: %w", err)
	}
	if cfg.PatternCacheSize < 1 {
		return nil, fmt.Errorf("YM_PATTERN_CACHE_SIZE: значение должно быть >= 1")
	}
	cfg.PatternCacheTTL, err = getEnvPositiveDuration("YM_PATTERN_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("YM_PATTERN_CACHE_TTL: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("YM_DEPHEALTH_GROUP", "yum")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("YM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthIsEntry, err = getEnvBool("YM_DEPHEALTH_ISENTRY", false)
	if err != nil {
		return nil, fmt.Errorf("YM_DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("YM_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("YM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для лейблов topologymetrics.
// Пароль в URL не включается.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(c.DBUser),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// MigrateURL возвращает URL для golang-migrate (схема pgx5://).
func (c *Config) MigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — как getEnvDuration, но значение должно быть > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
