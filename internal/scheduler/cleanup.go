// cleanup.go — периодическая очистка репозиториев по политике хранения.
// Использует собственный набор блокировок: очистка и генерация индекса
// одного репозитория не исключают друг друга.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/service"
)

// Cleaner применяет политику хранения к репозиторию.
type Cleaner interface {
	Cleanup(ctx context.Context, repoName string) (bool, error)
}

// EntryLister — список записей о репозиториях по типам.
type EntryLister interface {
	ListByTypes(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error)
}

// CleanupScheduler — планировщик очистки репозиториев.
type CleanupScheduler struct {
	entries  EntryLister
	cleaner  Cleaner
	pool     *Pool
	locks    *KeyedLock
	notifier service.ChangeNotifier
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleanupScheduler создаёт планировщик очистки.
func NewCleanupScheduler(
	entries EntryLister,
	cleaner Cleaner,
	pool *Pool,
	interval time.Duration,
	logger *slog.Logger,
) *CleanupScheduler {
	return &CleanupScheduler{
		entries:  entries,
		cleaner:  cleaner,
		pool:     pool,
		locks:    NewKeyedLock(),
		interval: interval,
		logger:   logger.With(slog.String("component", "cleanup_scheduler")),
	}
}

// SetNotifier подключает получателя уведомлений об очищенных репозиториях.
func (s *CleanupScheduler) SetNotifier(n service.ChangeNotifier) {
	s.notifier = n
}

// Start запускает периодическую очистку.
func (s *CleanupScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Планировщик очистки запущен",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Планировщик очистки остановлен")
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					s.logger.Error("Ошибка обхода репозиториев", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает периодическую очистку и ждёт завершения горутины.
func (s *CleanupScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// Tick ставит очистку для всех локальных репозиториев с политикой хранения.
// Возвращает количество принятых задач.
func (s *CleanupScheduler) Tick(ctx context.Context) (int, error) {
	entries, err := s.entries.ListByTypes(ctx, model.RepoTypeStatic, model.RepoTypeScheduled)
	if err != nil {
		return 0, fmt.Errorf("%w: список репозиториев: %w", service.ErrStoreUnavailable, err)
	}

	submitted := 0
	for _, e := range entries {
		if !e.RetentionEnabled() {
			continue
		}
		if s.Trigger(e.Name) {
			submitted++
		}
	}
	return submitted, nil
}

// Trigger ставит очистку репозитория. Возвращает false, если очистка
// уже выполняется или пул не принял задачу.
func (s *CleanupScheduler) Trigger(name string) bool {
	unlock, ok := s.locks.TryLock(name)
	if !ok {
		schedulerSkippedTotal.WithLabelValues("cleanup", "busy").Inc()
		s.logger.Debug("Очистка уже выполняется, репозиторий пропущен", slog.String("repo", name))
		return false
	}

	err := s.pool.Submit("cleanup:"+name, unlock, func(ctx context.Context) {
		s.cleanup(ctx, name)
	})
	if err != nil {
		unlock()
		schedulerSkippedTotal.WithLabelValues("cleanup", skipReason(err)).Inc()
		s.logger.Warn("Задача очистки не принята",
			slog.String("repo", name),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *CleanupScheduler) cleanup(ctx context.Context, name string) {
	changed, err := s.cleaner.Cleanup(ctx, name)
	if err != nil {
		s.logger.Error("Ошибка очистки репозитория",
			slog.String("repo", name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !changed {
		return
	}

	s.logger.Info("Репозиторий очищен, индекс будет перегенерирован", slog.String("repo", name))
	if s.notifier != nil {
		s.notifier.Trigger(name)
	}
}
