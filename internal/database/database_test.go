package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/goartstore/yum-module/internal/config"
)

// setupTestDB запускает PostgreSQL в Docker-контейнере через testcontainers.
func setupTestDB(t *testing.T) *config.Config {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("yum_test"),
		postgres.WithUsername("yum"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("YM_DB_HOST", host)
	t.Setenv("YM_DB_PORT", port.Port())
	t.Setenv("YM_DB_NAME", "yum_test")
	t.Setenv("YM_DB_USER", "yum")
	t.Setenv("YM_DB_PASSWORD", "test-password")
	t.Setenv("YM_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}
	return cfg
}

// TestMigrate проверяет применение миграций и их повторный запуск.
func TestMigrate(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}
	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Повторный Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"repo_entries", "artifacts"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("Ошибка проверки таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Таблица %s не создана", table)
		}
	}

	status, msg := NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидается ok", status, msg)
	}
}

// TestMigrate_DirtySchema — прерванная миграция останавливает запуск.
func TestMigrate_DirtySchema(t *testing.T) {
	cfg := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate() вернул ошибку: %v", err)
	}

	ctx := context.Background()
	pool, err := Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() вернул ошибку: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `UPDATE schema_migrations SET dirty = true`); err != nil {
		t.Fatalf("Ошибка пометки схемы: %v", err)
	}

	if err := Migrate(cfg, logger); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() = %v, ожидалась ErrDirtySchema", err)
	}
}

func TestPoolConfig(t *testing.T) {
	cfg := &config.Config{
		DBHost:           "db.local",
		DBPort:           5433,
		DBName:           "yum",
		DBUser:           "yum",
		DBPassword:       "secret",
		DBSSLMode:        "disable",
		DBMaxConns:       7,
		DBConnectTimeout: 4 * time.Second,
	}

	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		t.Fatalf("PoolConfig() вернул ошибку: %v", err)
	}
	if poolCfg.MaxConns != 7 {
		t.Errorf("MaxConns = %d, ожидается 7", poolCfg.MaxConns)
	}
	if poolCfg.ConnConfig.ConnectTimeout != 4*time.Second {
		t.Errorf("ConnectTimeout = %v, ожидается 4s", poolCfg.ConnConfig.ConnectTimeout)
	}
	if poolCfg.ConnConfig.Host != "db.local" || poolCfg.ConnConfig.Port != 5433 {
		t.Errorf("host:port = %s:%d", poolCfg.ConnConfig.Host, poolCfg.ConnConfig.Port)
	}
}
