// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// yum-module мониторит:
//   - PostgreSQL — SQL checker через существующий pgxpool (connection pool mode, critical)
//   - S3 — HTTP checker к health endpoint хранилища (только для backend s3, non-critical)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthOptions — параметры мониторинга зависимостей.
type DephealthOptions struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (YM_DEPHEALTH_GROUP)
	Group string
	// PgConnURL — URL PostgreSQL для лейблов метрик, не для подключения
	PgConnURL string
	// S3Endpoint, S3HealthPath — HTTP-проверка S3 (пустой endpoint — без проверки)
	S3Endpoint   string
	S3HealthPath string
	// CheckInterval — интервал проверки (YM_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
	// IsEntry — лейбл isentry=yes для всех зависимостей (YM_DEPHEALTH_ISENTRY)
	IsEntry bool
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	deps   []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
// db — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool().
func NewDephealthService(db *sql.DB, opts DephealthOptions, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(db, opts, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	db *sql.DB, opts DephealthOptions, logger *slog.Logger, registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(db, opts, logger, dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	db *sql.DB, o DephealthOptions, logger *slog.Logger, extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	pgDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(o.PgConnURL),
		dephealth.CheckInterval(o.CheckInterval),
		dephealth.Critical(true),
	}
	if o.IsEntry {
		pgDepOpts = append(pgDepOpts, dephealth.WithLabel("isentry", "yes"))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)), pgDepOpts...),
	)
	deps := []string{"postgresql"}

	if s3Opts := s3DependencyOptions(o); s3Opts != nil {
		opts = append(opts, dephealth.HTTP("s3", s3Opts...))
		deps = append(deps, "s3")
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(o.ServiceID, o.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		deps:   deps,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// s3DependencyOptions возвращает опции HTTP-проверки S3 или nil,
// если endpoint или health path не заданы.
func s3DependencyOptions(o DephealthOptions) []dephealth.DependencyOption {
	if o.S3Endpoint == "" || o.S3HealthPath == "" {
		return nil
	}
	parsed, err := url.Parse(o.S3Endpoint)
	if err != nil || parsed.Host == "" {
		return nil
	}

	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(o.S3Endpoint),
		dephealth.WithHTTPHealthPath(o.S3HealthPath),
		dephealth.CheckInterval(o.CheckInterval),
		dephealth.Critical(false),
	}
	if parsed.Scheme == "https" {
		depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	if o.IsEntry {
		depOpts = append(depOpts, dephealth.WithLabel("isentry", "yes"))
	}
	return depOpts
}

// Dependencies возвращает имена отслеживаемых зависимостей.
func (ds *DephealthService) Dependencies() []string {
	return append([]string(nil), ds.deps...)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен", slog.Any("dependencies", ds.deps))
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
