// metadata.go — периодическая генерация индексов SCHEDULED-репозиториев.
//
// Tick выбирает SCHEDULED-репозитории с изменениями после последней генерации
// и ставит задачу генерации для каждого. Занятый репозиторий пропускается
// до следующего тика. Задача фиксирует номер изменения до генерации, поэтому
// изменения во время генерации оставляют репозиторий dirty.
//
// Prometheus-метрики:
//   - ym_generator_runs_total — успешные генерации
//   - ym_generator_failures_total — ошибки генерации
//   - ym_scheduler_skipped_total — пропущенные запуски (занят, очередь заполнена)
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
	"github.com/bigkaa/goartstore/yum-module/internal/service"
)

var (
	generatorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ym_generator_runs_total",
		Help: "Количество успешных генераций индекса",
	})

	generatorFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ym_generator_failures_total",
		Help: "Количество ошибок генерации индекса",
	})

	schedulerSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ym_scheduler_skipped_total",
		Help: "Количество пропущенных запусков задач планировщика",
	}, []string{"job", "reason"}) // reason: busy, queue_full, stopped
)

// Generator генерирует индекс репозитория с указанным токеном ревизии.
// Индекс публикуется целиком или не публикуется вовсе.
type Generator interface {
	Generate(ctx context.Context, repoName string, revision int64) error
}

// EntryStore — доступ планировщика к записям о репозиториях.
type EntryStore interface {
	GetByName(ctx context.Context, name string) (*model.RepoEntry, error)
	ListByTypes(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error)
	MarkGenerated(ctx context.Context, name string, seq, revision int64, at time.Time) error
}

// MetadataScheduler — планировщик генерации индексов.
type MetadataScheduler struct {
	entries   EntryStore
	generator Generator
	pool      *Pool
	locks     *KeyedLock
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMetadataScheduler создаёт планировщик генерации индексов.
func NewMetadataScheduler(
	entries EntryStore,
	generator Generator,
	pool *Pool,
	interval time.Duration,
	logger *slog.Logger,
) *MetadataScheduler {
	return &MetadataScheduler{
		entries:   entries,
		generator: generator,
		pool:      pool,
		locks:     NewKeyedLock(),
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "metadata_scheduler")),
	}
}

// Start запускает периодический обход репозиториев.
func (s *MetadataScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Планировщик генерации индексов запущен",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Планировщик генерации индексов остановлен")
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					s.logger.Error("Ошибка обхода репозиториев", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает периодический обход и ждёт завершения горутины.
// Задачи, уже переданные в пул, останавливаются вместе с пулом.
func (s *MetadataScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick ставит генерацию для всех изменённых SCHEDULED-репозиториев.
// Возвращает количество принятых задач.
func (s *MetadataScheduler) Tick(ctx context.Context) (int, error) {
	entries, err := s.entries.ListByTypes(ctx, model.RepoTypeScheduled)
	if err != nil {
		return 0, fmt.Errorf("%w: список SCHEDULED-репозиториев: %w", service.ErrStoreUnavailable, err)
	}

	submitted := 0
	for _, e := range entries {
		if !e.IsDirty() {
			continue
		}
		if s.Trigger(e.Name) {
			submitted++
		}
	}

	if submitted > 0 {
		s.logger.Debug("Генерация индексов поставлена",
			slog.Int("repos", len(entries)),
			slog.Int("submitted", submitted),
		)
	}
	return submitted, nil
}

// Trigger ставит генерацию индекса репозитория без ожидания тика.
// Возвращает false, если репозиторий уже обрабатывается или пул не принял задачу.
func (s *MetadataScheduler) Trigger(name string) bool {
	unlock, ok := s.locks.TryLock(name)
	if !ok {
		schedulerSkippedTotal.WithLabelValues("metadata", "busy").Inc()
		s.logger.Debug("Генерация уже выполняется, репозиторий пропущен", slog.String("repo", name))
		return false
	}

	err := s.pool.Submit("metadata:"+name, unlock, func(ctx context.Context) {
		if err := s.regenerate(ctx, name); err != nil {
			s.logger.Error("Ошибка генерации индекса",
				slog.String("repo", name),
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		unlock()
		schedulerSkippedTotal.WithLabelValues("metadata", skipReason(err)).Inc()
		s.logger.Warn("Задача генерации не принята",
			slog.String("repo", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// regenerate генерирует индекс и фиксирует покрытый номер изменения.
func (s *MetadataScheduler) regenerate(ctx context.Context, name string) error {
	entry, err := s.entries.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", service.ErrRepositoryNotFound, name)
		}
		return fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
	}
	if entry.Type != model.RepoTypeScheduled {
		s.logger.Debug("Репозиторий не SCHEDULED, генерация не требуется",
			slog.String("repo", name),
			slog.String("type", string(entry.Type)),
		)
		return nil
	}

	snapshot := entry.ModificationSeq
	now := s.now()
	revision := max(entry.Revision+1, now.Unix())

	start := time.Now()
	if err := s.generator.Generate(ctx, name, revision); err != nil {
		generatorFailuresTotal.Inc()
		return fmt.Errorf("%w: %s: %w", service.ErrGeneratorFailure, name, err)
	}

	if err := s.entries.MarkGenerated(ctx, name, snapshot, revision, now); err != nil {
		return fmt.Errorf("%w: фиксация генерации %s: %w", service.ErrStoreUnavailable, name, err)
	}
	generatorRunsTotal.Inc()

	s.logger.Info("Индекс сгенерирован",
		slog.String("repo", name),
		slog.Int64("revision", revision),
		slog.Int64("seq", snapshot),
		slog.Duration("duration", time.Since(start)),
	)

	after, err := s.entries.GetByName(ctx, name)
	if err == nil && after.IsDirty() {
		s.logger.Info("Репозиторий изменён во время генерации, повтор на следующем тике",
			slog.String("repo", name),
		)
	}
	return nil
}

// State возвращает состояние индекса репозитория.
func (s *MetadataScheduler) State(ctx context.Context, name string) (model.IndexState, error) {
	if s.locks.Locked(name) {
		return model.IndexRegenerating, nil
	}

	entry, err := s.entries.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", service.ErrRepositoryNotFound, name)
		}
		return "", fmt.Errorf("%w: %w", service.ErrStoreUnavailable, err)
	}
	if entry.IsDirty() {
		return model.IndexDirty, nil
	}
	return model.IndexFresh, nil
}

// skipReason возвращает значение лейбла reason для ошибки Submit.
func skipReason(err error) string {
	if errors.Is(err, ErrPoolStopped) {
		return "stopped"
	}
	return "queue_full"
}
