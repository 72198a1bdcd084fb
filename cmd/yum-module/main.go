// main.go — точка входа Yum Module.
// Инициализирует компоненты и запускает HTTP-сервер health/metrics
// и фоновые планировщики генерации индексов и очистки.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/goartstore/yum-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/yum-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/yum-module/internal/config"
	"github.com/bigkaa/goartstore/yum-module/internal/database"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/indexgen"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
	"github.com/bigkaa/goartstore/yum-module/internal/scheduler"
	"github.com/bigkaa/goartstore/yum-module/internal/server"
	"github.com/bigkaa/goartstore/yum-module/internal/service"
	"github.com/bigkaa/goartstore/yum-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/yum-module/internal/storage/s3store"
)

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логгер
	logger := config.SetupLogger(cfg)
	logger.Info("Yum Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	// 3. Миграции
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. PostgreSQL
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// *sql.DB для pgcheck.WithDB
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Репозитории
	entryRepo := repository.NewRepoEntryRepository(pool)
	artifactRepo := repository.NewArtifactRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Хранилище пакетов
	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища пакетов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Сервисы
	patterns := service.NewPatternCache(cfg.PatternCacheSize, cfg.PatternCacheTTL)
	catalogSvc := service.NewCatalogService(entryRepo, artifactRepo, patterns, logger)
	retentionSvc := service.NewRetentionService(entryRepo, artifactRepo, txRunner, blobs,
		service.RetentionOptions{KeepNewest: cfg.RetentionKeepNewest}, logger)
	repoSvc := service.NewRepoEntryService(entryRepo, artifactRepo, txRunner, blobs,
		service.RetentionDefaults{MaxKeepRpms: cfg.DefaultMaxKeepRpms, MaxDaysRpms: cfg.DefaultMaxDaysRpms}, logger)
	artifactSvc := service.NewArtifactService(repoSvc, artifactRepo, txRunner, blobs, logger)

	generator, err := indexgen.NewManifestGenerator(cfg.IndexDir, artifactRepo, logger)
	if err != nil {
		logger.Error("Ошибка инициализации генератора индексов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 8. Пул фоновых задач и gauge-метрики
	workers := scheduler.NewPool(cfg.SchedulerPoolSize, cfg.SchedulerQueueSize, rbac.SystemPrincipal(), logger)
	sink, err := scheduler.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("Ошибка регистрации метрик планировщика", slog.String("error", err.Error()))
		os.Exit(1)
	}
	go workers.ReportGauges(ctx, sink, cfg.MonitoringInterval)

	// 9. Планировщики
	metaSched := scheduler.NewMetadataScheduler(entryRepo, generator, workers, cfg.MetadataInterval, logger)
	cleanupSched := scheduler.NewCleanupScheduler(entryRepo, retentionSvc, workers, cfg.CleanupInterval, logger)
	artifactSvc.SetNotifier(metaSched)
	cleanupSched.SetNotifier(metaSched)

	metaSched.Start(ctx)
	cleanupSched.Start(ctx)

	logStartupSummary(ctx, catalogSvc, logger)

	// 10. topologymetrics
	dephealthSvc, dhErr := service.NewDephealthService(pgDB, service.DephealthOptions{
		ServiceID:     "yum-module",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		S3Endpoint:    cfg.S3Endpoint,
		S3HealthPath:  cfg.S3HealthPath,
		CheckInterval: cfg.DephealthCheckInterval,
		IsEntry:       cfg.DephealthIsEntry,
	}, logger)
	if dhErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dhErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.Any("dependencies", dephealthSvc.Dependencies()),
		)
	}

	// 11. Health и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(pool),
		service.NewBlobReadinessChecker(blobs),
	)
	srv := server.New(cfg, logger, healthHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	runErr := srv.Run()

	// 12. Остановка: планировщики → пул → topologymetrics
	metaSched.Stop()
	cleanupSched.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	if err := workers.Stop(stopCtx); err != nil {
		logger.Warn("Пул фоновых задач остановлен по таймауту", slog.String("error", err.Error()))
	}
	stopCancel()

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	if runErr != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", runErr.Error()))
		os.Exit(1) //nolint:gocritic // defer'ы закрытия пула не критичны при аварийном выходе
	}
	logger.Info("Yum Module остановлен")
}

// newBlobStore создаёт backend хранилища пакетов по конфигурации.
func newBlobStore(ctx context.Context, cfg *config.Config) (service.BlobStore, error) {
	if cfg.BlobBackend == config.BlobBackendS3 {
		client, err := s3store.NewClient(ctx, s3store.Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3store.New(client, cfg.S3Bucket), nil
	}

	fs, err := filestore.New(cfg.BlobDir)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// logStartupSummary пишет в лог число известных локальных репозиториев.
func logStartupSummary(ctx context.Context, catalog *service.CatalogService, logger *slog.Logger) {
	repos, err := catalog.GetRepos(ctx, model.SortByName, model.SortAsc)
	if err != nil {
		logger.Warn("Не удалось получить список репозиториев", slog.String("error", err.Error()))
		return
	}
	logger.Info("Каталог загружен", slog.Int("repositories", len(repos.Items)))
}
