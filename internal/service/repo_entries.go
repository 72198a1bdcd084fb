// repo_entries.go — администрирование записей о репозиториях:
// создание, смена типа, политика хранения, теги, удаление.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

// repoNameRe — допустимое имя репозитория.
var repoNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRepoName проверяет имя репозитория.
func ValidateRepoName(name string) error {
	if !repoNameRe.MatchString(name) {
		return fmt.Errorf("%w: недопустимое имя репозитория %q", ErrValidation, name)
	}
	return nil
}

// RetentionDefaults — политика хранения новых репозиториев.
type RetentionDefaults struct {
	MaxKeepRpms int
	MaxDaysRpms int
}

// RepoEntryService — управление записями о репозиториях.
type RepoEntryService struct {
	entries   repository.RepoEntryRepository
	artifacts repository.ArtifactRepository
	tx        Transactor
	blobs     BlobStore
	defaults  RetentionDefaults
	now       func() time.Time
	logger    *slog.Logger
}

// NewRepoEntryService создаёт сервис управления репозиториями.
// Изменения записи и отметка об изменении репозитория выполняются в одной транзакции tx.
func NewRepoEntryService(
	entries repository.RepoEntryRepository,
	artifacts repository.ArtifactRepository,
	tx Transactor,
	blobs BlobStore,
	defaults RetentionDefaults,
	logger *slog.Logger,
) *RepoEntryService {
	return &RepoEntryService{
		entries:   entries,
		artifacts: artifacts,
		tx:        tx,
		blobs:     blobs,
		defaults:  defaults,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "repo_entries")),
	}
}

// Create создаёт STATIC-репозиторий с политикой хранения по умолчанию.
func (s *RepoEntryService) Create(ctx context.Context, name string) (*model.RepoEntry, error) {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return nil, err
	}
	return s.create(ctx, name, model.RepoTypeStatic)
}

// Ensure возвращает существующий репозиторий или создаёт его с указанным типом.
func (s *RepoEntryService) Ensure(ctx context.Context, name string, t model.RepoType) (*model.RepoEntry, error) {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return nil, err
	}

	entry, err := s.Get(ctx, name)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, ErrRepositoryNotFound) {
		return nil, err
	}

	entry, err = s.create(ctx, name, t)
	if errors.Is(err, ErrRepositoryExists) {
		// Создан параллельно.
		return s.Get(ctx, name)
	}
	return entry, err
}

func (s *RepoEntryService) create(ctx context.Context, name string, t model.RepoType) (*model.RepoEntry, error) {
	if err := ValidateRepoName(name); err != nil {
		return nil, err
	}
	if !t.IsLocal() {
		return nil, fmt.Errorf("%w: тип %s не поддерживается", ErrValidation, t)
	}

	entry := &model.RepoEntry{
		Name:         name,
		Type:         t,
		MaxKeepRpms:  s.defaults.MaxKeepRpms,
		MaxDaysRpms:  s.defaults.MaxDaysRpms,
		Tags:         []string{},
		LastModified: s.now(),
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrRepositoryExists, name)
		}
		return nil, fmt.Errorf("%w: создание репозитория %s: %w", ErrStoreUnavailable, name, err)
	}

	s.logger.Info("Репозиторий создан",
		slog.String("repo", name),
		slog.String("type", string(t)),
	)
	return entry, nil
}

// Get возвращает запись о репозитории.
func (s *RepoEntryService) Get(ctx context.Context, name string) (*model.RepoEntry, error) {
	entry, err := s.entries.GetByName(ctx, name)
	if err != nil {
		return nil, mapEntryErr(name, err)
	}
	return entry, nil
}

// UpdateType меняет тип репозитория. EXTERNAL не поддерживается.
func (s *RepoEntryService) UpdateType(ctx context.Context, name string, t model.RepoType) error {
	if !t.IsLocal() {
		return fmt.Errorf("%w: тип %s не поддерживается", ErrValidation, t)
	}
	return s.update(ctx, name, "type", func(entries repository.RepoEntryRepository) error {
		return entries.UpdateType(ctx, name, t)
	})
}

// UpdateMaxKeepRpms меняет ограничение по количеству версий (0 — без ограничения).
func (s *RepoEntryService) UpdateMaxKeepRpms(ctx context.Context, name string, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: maxKeepRpms = %d", ErrInvalidPolicyConfiguration, n)
	}
	return s.update(ctx, name, "max_keep_rpms", func(entries repository.RepoEntryRepository) error {
		return entries.SetMaxKeepRpms(ctx, name, n)
	})
}

// UpdateMaxDaysRpms меняет ограничение по возрасту в днях (0 — без ограничения).
func (s *RepoEntryService) UpdateMaxDaysRpms(ctx context.Context, name string, days int) error {
	if days < 0 {
		return fmt.Errorf("%w: maxDaysRpms = %d", ErrInvalidPolicyConfiguration, days)
	}
	return s.update(ctx, name, "max_days_rpms", func(entries repository.RepoEntryRepository) error {
		return entries.SetMaxDaysRpms(ctx, name, days)
	})
}

// AddTags добавляет теги и возвращает новый набор.
func (s *RepoEntryService) AddTags(ctx context.Context, name string, tags ...string) ([]string, error) {
	return s.changeTags(ctx, name, func(current []string) ([]string, error) {
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				return nil, fmt.Errorf("%w: пустой тег", ErrValidation)
			}
			if !slices.Contains(current, t) {
				current = append(current, t)
			}
		}
		return current, nil
	})
}

// RemoveTags удаляет теги и возвращает новый набор.
func (s *RepoEntryService) RemoveTags(ctx context.Context, name string, tags ...string) ([]string, error) {
	return s.changeTags(ctx, name, func(current []string) ([]string, error) {
		return slices.DeleteFunc(current, func(t string) bool {
			return slices.Contains(tags, t)
		}), nil
	})
}

func (s *RepoEntryService) changeTags(
	ctx context.Context, name string, change func([]string) ([]string, error),
) ([]string, error) {
	var tags []string
	err := s.update(ctx, name, "tags", func(entries repository.RepoEntryRepository) error {
		entry, err := entries.GetByName(ctx, name)
		if err != nil {
			return err
		}
		tags, err = change(slices.Clone(entry.Tags))
		if err != nil {
			return err
		}
		if tags == nil {
			tags = []string{}
		}
		slices.Sort(tags)
		return entries.SetTags(ctx, name, tags)
	})
	if err != nil {
		return nil, err
	}
	return tags, nil
}

// update применяет изменение записи и помечает репозиторий изменённым
// в одной транзакции: без отметки изменение не сохраняется.
func (s *RepoEntryService) update(
	ctx context.Context, name, field string, apply func(entries repository.RepoEntryRepository) error,
) error {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return err
	}

	err := s.tx.InTx(ctx, func(st repository.Stores) error {
		if err := apply(st.Entries); err != nil {
			return err
		}
		return st.Entries.Touch(ctx, name, s.now())
	})
	if err != nil {
		return mapEntryErr(name, err)
	}

	s.logger.Info("Репозиторий изменён",
		slog.String("repo", name),
		slog.String("field", field),
	)
	return nil
}

// Delete помечает удалёнными содержимое и записи всех пакетов репозитория
// и удаляет запись о репозитории. Требует полномочие admin.
func (s *RepoEntryService) Delete(ctx context.Context, name string) error {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityAdmin); err != nil {
		return err
	}
	if _, err := s.Get(ctx, name); err != nil {
		return err
	}

	records, err := s.artifacts.ListActive(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: список пакетов %s: %w", ErrStoreUnavailable, name, err)
	}
	for _, r := range records {
		if err := s.blobs.SoftDelete(ctx, r.ContentRef); err != nil {
			return fmt.Errorf("%w: пометка содержимого %s: %w", ErrStoreUnavailable, r.ContentRef, err)
		}
	}

	if err := s.entries.Delete(ctx, name); err != nil {
		return mapEntryErr(name, err)
	}

	s.logger.Info("Репозиторий удалён",
		slog.String("repo", name),
		slog.Int("artifacts", len(records)),
	)
	return nil
}

// mapEntryErr переводит ошибки repository в ошибки сервиса.
func mapEntryErr(name string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, name)
	}
	return txErr("репозиторий "+name, err)
}
