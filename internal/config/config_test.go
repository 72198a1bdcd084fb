package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"YM_DB_HOST":     "localhost",
		"YM_DB_NAME":     "yum",
		"YM_DB_USER":     "yum",
		"YM_DB_PASSWORD": "secret",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8050 {
		t.Errorf("Port = %d, ожидается 8050", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBMaxConns != 10 || cfg.DBConnectTimeout != 10*time.Second {
		t.Errorf("пул БД = (%d, %v), ожидается (10, 10s)", cfg.DBMaxConns, cfg.DBConnectTimeout)
	}
	if cfg.BlobBackend != BlobBackendFS {
		t.Errorf("BlobBackend = %q, ожидается fs", cfg.BlobBackend)
	}
	if cfg.BlobDir != "/data/blobs" {
		t.Errorf("BlobDir = %q, ожидается /data/blobs", cfg.BlobDir)
	}
	if cfg.SchedulerPoolSize != 4 {
		t.Errorf("SchedulerPoolSize = %d, ожидается 4", cfg.SchedulerPoolSize)
	}
	if cfg.MetadataInterval != 10*time.Second {
		t.Errorf("MetadataInterval = %v, ожидается 10s", cfg.MetadataInterval)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, ожидается 1h", cfg.CleanupInterval)
	}
	if !cfg.RetentionKeepNewest {
		t.Error("RetentionKeepNewest = false, ожидается true")
	}
	if cfg.DefaultMaxKeepRpms != 0 || cfg.DefaultMaxDaysRpms != 0 {
		t.Errorf("политика по умолчанию = (%d, %d), ожидается (0, 0)",
			cfg.DefaultMaxKeepRpms, cfg.DefaultMaxDaysRpms)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	for _, key := range []string{"YM_DB_HOST", "YM_DB_NAME", "YM_DB_USER", "YM_DB_PASSWORD"} {
		t.Run(key, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, key)
			setEnvs(t, envs)
			t.Setenv(key, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("Load() без %s должен вернуть ошибку", key)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("ошибка %q должна содержать имя переменной %s", err, key)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт вне диапазона", "YM_PORT", "70000"},
		{"некорректный уровень логов", "YM_LOG_LEVEL", "verbose"},
		{"некорректный формат логов", "YM_LOG_FORMAT", "xml"},
		{"неизвестный backend", "YM_BLOB_BACKEND", "ftp"},
		{"нулевой пул", "YM_SCHEDULER_POOL_SIZE", "0"},
		{"нулевой пул БД", "YM_DB_MAX_CONNS", "0"},
		{"нулевой таймаут подключения", "YM_DB_CONNECT_TIMEOUT", "0s"},
		{"отрицательный maxKeep", "YM_DEFAULT_MAX_KEEP_RPMS", "-1"},
		{"отрицательный maxDays", "YM_DEFAULT_MAX_DAYS_RPMS", "-3"},
		{"нулевой интервал", "YM_METADATA_INTERVAL", "0s"},
		{"некорректная длительность", "YM_CLEANUP_INTERVAL", "hour"},
		{"некорректный bool", "YM_RETENTION_KEEP_NEWEST", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, minimalEnvs())
			t.Setenv(tt.key, tt.val)

			if _, err := Load(); err == nil {
				t.Errorf("Load() с %s=%q должен вернуть ошибку", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_S3Backend(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("YM_BLOB_BACKEND", "s3")
	t.Setenv("YM_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("YM_S3_BUCKET", "rpms")
	t.Setenv("YM_S3_ACCESS_KEY", "minio")
	t.Setenv("YM_S3_SECRET_KEY", "minio123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.S3Bucket != "rpms" {
		t.Errorf("S3Bucket = %q, ожидается rpms", cfg.S3Bucket)
	}
	if !cfg.S3UsePathStyle {
		t.Error("S3UsePathStyle = false, ожидается true по умолчанию")
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, ожидается us-east-1", cfg.S3Region)
	}
}

func TestLoad_S3BackendRequiresBucket(t *testing.T) {
	setEnvs(t, minimalEnvs())
	t.Setenv("YM_BLOB_BACKEND", "s3")
	t.Setenv("YM_S3_ACCESS_KEY", "minio")
	t.Setenv("YM_S3_SECRET_KEY", "minio123")

	if _, err := Load(); err == nil {
		t.Fatal("Load() без YM_S3_BUCKET должен вернуть ошибку")
	}
}

func TestConfig_URLs(t *testing.T) {
	cfg := &Config{
		DBHost:     "db",
		DBPort:     5433,
		DBName:     "yum",
		DBUser:     "user",
		DBPassword: "p@ss",
		DBSSLMode:  "disable",
	}

	if got := cfg.DatabaseURL(); got != "postgres://user@db:5433/yum?sslmode=disable" {
		t.Errorf("DatabaseURL() = %q", got)
	}
	if got := cfg.MigrateURL(); !strings.HasPrefix(got, "pgx5://user:p%40ss@db:5433/yum") {
		t.Errorf("MigrateURL() = %q, пароль должен быть экранирован", got)
	}
	if got := cfg.DatabaseDSN(); !strings.Contains(got, "port=5433") {
		t.Errorf("DatabaseDSN() = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if err != nil {
			t.Errorf("parseLogLevel(%q) ошибка: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.in, got, tt.want)
		}
	}
}
