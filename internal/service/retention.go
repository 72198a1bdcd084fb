// retention.go — очистка старых версий пакетов по политике хранения репозитория.
//
// Пакеты репозитория группируются по (имя пакета, архитектура), каждая группа
// сортируется по убыванию версии. Запись удаляется (мягко), если её ранг
// превышает maxKeepRpms или пакет собран раньше, чем maxDaysRpms дней назад.
// Обе политики независимы и объединяются.
//
// Prometheus-метрики:
//   - ym_retention_runs_total — запуски очистки по результату
//   - ym_retention_victims_total — количество удалённых записей
//   - ym_retention_duration_seconds — длительность очистки
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rpmver"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

// Prometheus-метрики очистки.
var (
	retentionRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ym_retention_runs_total",
		Help: "Количество запусков очистки репозиториев",
	}, []string{"result"}) // result: cleaned, noop, disabled, error

	retentionVictimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ym_retention_victims_total",
		Help: "Количество пакетов, помеченных удалёнными при очистке",
	})

	retentionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ym_retention_duration_seconds",
		Help:    "Длительность очистки репозитория в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// day — длительность суток для политики по возрасту.
const day = 24 * time.Hour

// RetentionOptions — параметры очистки.
type RetentionOptions struct {
	// KeepNewest — самая новая версия группы никогда не удаляется по возрасту.
	KeepNewest bool
}

// RetentionService — очистка репозиториев по политике хранения.
type RetentionService struct {
	entries   repository.RepoEntryRepository
	artifacts repository.ArtifactRepository
	tx        Transactor
	blobs     BlobStore
	opts      RetentionOptions
	now       func() time.Time
	logger    *slog.Logger
}

// NewRetentionService создаёт сервис очистки.
func NewRetentionService(
	entries repository.RepoEntryRepository,
	artifacts repository.ArtifactRepository,
	tx Transactor,
	blobs BlobStore,
	opts RetentionOptions,
	logger *slog.Logger,
) *RetentionService {
	return &RetentionService{
		entries:   entries,
		artifacts: artifacts,
		tx:        tx,
		blobs:     blobs,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "retention")),
	}
}

// Cleanup применяет политику хранения к репозиторию.
// Возвращает true, если хотя бы одна запись была помечена удалённой.
// Требует полномочие admin у принципала в context.
func (s *RetentionService) Cleanup(ctx context.Context, repoName string) (bool, error) {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityAdmin); err != nil {
		return false, err
	}

	start := time.Now()
	defer func() { retentionDuration.Observe(time.Since(start).Seconds()) }()

	entry, err := s.entries.GetByName(ctx, repoName)
	if err != nil {
		retentionRunsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, repository.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrRepositoryNotFound, repoName)
		}
		return false, fmt.Errorf("%w: получение репозитория %s: %w", ErrStoreUnavailable, repoName, err)
	}

	if !entry.RetentionEnabled() {
		retentionRunsTotal.WithLabelValues("disabled").Inc()
		return false, nil
	}

	records, err := s.artifacts.ListActive(ctx, repoName)
	if err != nil {
		retentionRunsTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("%w: список пакетов %s: %w", ErrStoreUnavailable, repoName, err)
	}

	now := s.now()
	victims := s.selectVictims(records, entry.MaxKeepRpms, entry.MaxDaysRpms, now)
	if len(victims) == 0 {
		retentionRunsTotal.WithLabelValues("noop").Inc()
		return false, nil
	}

	// Сначала содержимое: при сбое метаданные не меняются, и следующий
	// запуск повторит очистку целиком.
	ids := make([]string, 0, len(victims))
	for _, v := range victims {
		if err := s.blobs.SoftDelete(ctx, v.ContentRef); err != nil {
			retentionRunsTotal.WithLabelValues("error").Inc()
			return false, fmt.Errorf("%w: пометка содержимого %s: %w", ErrStoreUnavailable, v.ContentRef, err)
		}
		ids = append(ids, v.ID)
	}

	// Пометка записей и отметка об изменении репозитория — одна транзакция:
	// при сбое отметки записи остаются активными до следующего запуска.
	var deleted int
	err = s.tx.InTx(ctx, func(st repository.Stores) error {
		var err error
		deleted, err = st.Artifacts.MarkDeleted(ctx, ids, now)
		if err != nil {
			return fmt.Errorf("%w: пометка пакетов %s: %w", ErrStoreUnavailable, repoName, err)
		}
		if deleted == 0 {
			return nil
		}
		if err := st.Entries.Touch(ctx, repoName, now); err != nil {
			return fmt.Errorf("%w: обновление репозитория %s: %w", ErrStoreUnavailable, repoName, err)
		}
		return nil
	})
	if err != nil {
		retentionRunsTotal.WithLabelValues("error").Inc()
		return false, txErr("очистка "+repoName, err)
	}
	if deleted == 0 {
		retentionRunsTotal.WithLabelValues("noop").Inc()
		return false, nil
	}

	retentionRunsTotal.WithLabelValues("cleaned").Inc()
	retentionVictimsTotal.Add(float64(deleted))

	s.logger.Info("Репозиторий очищен",
		slog.String("repo", repoName),
		slog.Int("victims", deleted),
		slog.Int("scanned", len(records)),
		slog.Int("max_keep_rpms", entry.MaxKeepRpms),
		slog.Int("max_days_rpms", entry.MaxDaysRpms),
	)
	return true, nil
}

// groupKey — ключ группы очистки внутри репозитория.
type groupKey struct {
	name string
	arch string
}

// selectVictims выбирает записи для удаления.
func (s *RetentionService) selectVictims(
	records []*model.ArtifactRecord, maxKeep, maxDays int, now time.Time,
) []*model.ArtifactRecord {
	groups := make(map[groupKey][]*model.ArtifactRecord)
	for _, r := range records {
		k := groupKey{name: r.PackageName, arch: r.Arch}
		groups[k] = append(groups[k], r)
	}

	var cutoff int64
	if maxDays > 0 {
		cutoff = now.Add(-time.Duration(maxDays) * day).Unix()
	}

	var victims []*model.ArtifactRecord
	for _, group := range groups {
		slices.SortFunc(group, func(a, b *model.ArtifactRecord) int {
			if c := rpmver.Compare(b.Version, a.Version); c != 0 {
				return c
			}
			return cmp.Compare(a.Filename, b.Filename)
		})

		for i, r := range group {
			rank := i + 1
			byCount := maxKeep > 0 && rank > maxKeep
			byAge := maxDays > 0 && r.BuildTime < cutoff
			if byAge && rank == 1 && s.opts.KeepNewest {
				byAge = false
			}
			if byCount || byAge {
				victims = append(victims, r)
			}
		}
	}
	return victims
}
