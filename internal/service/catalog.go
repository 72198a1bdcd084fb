// catalog.go — каталог репозиториев: списки репозиториев, архитектур и пакетов,
// поиск пакетов по регулярному выражению и поиск записей о репозиториях.
// Данные читаются из PostgreSQL при каждом запросе; кэшируются только
// скомпилированные регулярные выражения.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

var catalogQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ym_catalog_query_duration_seconds",
	Help:    "Длительность запросов каталога в секундах",
	Buckets: prometheus.DefBuckets,
}, []string{"operation"})

// localRepoTypes — типы репозиториев, которые обслуживает каталог.
var localRepoTypes = []model.RepoType{model.RepoTypeStatic, model.RepoTypeScheduled}

// ArtifactQuery — параметры поиска пакетов.
type ArtifactQuery struct {
	// FilenamePattern — регулярное выражение по имени файла (без неявных якорей)
	FilenamePattern string
	// Repo, Arch — регулярные выражения, совпадающие со значением целиком;
	// пустая строка — любое значение
	Repo string
	Arch string
}

// RepoEntryQuery — параметры поиска записей о репозиториях.
type RepoEntryQuery struct {
	NamePrefix string
	Tag        string
	// Newer, Older — границы lastModified включительно; нулевое время — без границы
	Newer time.Time
	Older time.Time
}

// CatalogService — чтение каталога репозиториев.
type CatalogService struct {
	entries   repository.RepoEntryRepository
	artifacts repository.ArtifactRepository
	patterns  *PatternCache
	logger    *slog.Logger
}

// NewCatalogService создаёт сервис каталога.
func NewCatalogService(
	entries repository.RepoEntryRepository,
	artifacts repository.ArtifactRepository,
	patterns *PatternCache,
	logger *slog.Logger,
) *CatalogService {
	return &CatalogService{
		entries:   entries,
		artifacts: artifacts,
		patterns:  patterns,
		logger:    logger.With(slog.String("component", "catalog")),
	}
}

// observe фиксирует длительность операции каталога.
func observe(operation string, start time.Time) {
	catalogQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// GetRepos возвращает все репозитории: с пакетами и объявленные без пакетов.
// Репозиторий, у которого есть и запись, и пакеты, выводится один раз.
func (s *CatalogService) GetRepos(
	ctx context.Context, sortBy model.SortField, order model.SortOrder,
) (*model.Container[*model.FolderInfo], error) {
	defer observe("get_repos", time.Now())

	folders, err := s.artifacts.AggregateByRepo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: агрегация по репозиториям: %w", ErrStoreUnavailable, err)
	}
	entries, err := s.entries.ListByTypes(ctx, localRepoTypes...)
	if err != nil {
		return nil, fmt.Errorf("%w: список репозиториев: %w", ErrStoreUnavailable, err)
	}

	items := folders
	for _, f := range items {
		f.Tags = []string{}
	}
	// Пустые репозитории добавляются без повторов: папки равны по имени.
	for _, e := range entries {
		empty := &model.FolderInfo{Name: e.Name}
		i := slices.IndexFunc(items, empty.SameFolder)
		if i < 0 {
			items = append(items, empty)
			i = len(items) - 1
		}
		items[i].Tags = append([]string{}, e.Tags...)
	}

	sortFolders(items, sortBy, order)
	return &model.Container[*model.FolderInfo]{Path: "", Items: items}, nil
}

// GetArchs возвращает архитектуры репозитория.
func (s *CatalogService) GetArchs(
	ctx context.Context, repo string, sortBy model.SortField, order model.SortOrder,
) (*model.Container[*model.FolderInfo], error) {
	defer observe("get_archs", time.Now())

	if err := s.requireRepo(ctx, repo); err != nil {
		return nil, err
	}

	folders, err := s.artifacts.AggregateByArch(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: агрегация по архитектурам %s: %w", ErrStoreUnavailable, repo, err)
	}
	for _, f := range folders {
		f.Tags = []string{}
	}

	sortFolders(folders, sortBy, order)
	return &model.Container[*model.FolderInfo]{Path: repo, Items: folders}, nil
}

// GetFileInfo возвращает пакеты архитектуры репозитория.
func (s *CatalogService) GetFileInfo(
	ctx context.Context, repo, arch string, sortBy model.SortField, order model.SortOrder,
) (*model.Container[*model.ArtifactRecord], error) {
	defer observe("get_file_info", time.Now())

	if err := s.requireRepo(ctx, repo); err != nil {
		return nil, err
	}

	records, err := s.artifacts.ListByRepoArch(ctx, repo, arch, sortBy, order)
	if err != nil {
		return nil, fmt.Errorf("%w: список пакетов %s/%s: %w", ErrStoreUnavailable, repo, arch, err)
	}

	sortArtifacts(records, sortBy, order)
	return &model.Container[*model.ArtifactRecord]{Path: repo + "/" + arch, Items: records}, nil
}

// FindArtifacts ищет пакеты по регулярному выражению во всех подходящих
// репозиториях и архитектурах. Результаты объединяются и сортируются целиком.
func (s *CatalogService) FindArtifacts(
	ctx context.Context, q ArtifactQuery, sortBy model.SortField, order model.SortOrder,
) (*model.Container[*model.ArtifactRecord], error) {
	defer observe("find_artifacts", time.Now())

	re, err := s.patterns.Compile(q.FilenamePattern)
	if err != nil {
		return nil, err
	}
	repoRe, err := s.patterns.Compile(anchored(q.Repo))
	if err != nil {
		return nil, err
	}
	archRe, err := s.patterns.Compile(anchored(q.Arch))
	if err != nil {
		return nil, err
	}

	records, err := s.artifacts.Find(ctx, repository.ArtifactFilter{
		FilenamePattern: q.FilenamePattern,
		Repo:            q.Repo,
		Arch:            q.Arch,
	}, sortBy, order)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidPattern) {
			return nil, fmt.Errorf("%w: выражение не поддерживается хранилищем: %w", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: поиск пакетов: %w", ErrStoreUnavailable, err)
	}

	// Синтаксис регулярных выражений PostgreSQL и Go различается в деталях,
	// итоговое совпадение определяет Go.
	matched := records[:0]
	for _, r := range records {
		if re.MatchString(r.Filename) && repoRe.MatchString(r.Repo) && archRe.MatchString(r.Arch) {
			matched = append(matched, r)
		}
	}

	sortArtifacts(matched, sortBy, order)

	s.logger.Debug("Поиск пакетов",
		slog.String("pattern", q.FilenamePattern),
		slog.String("repo", q.Repo),
		slog.String("arch", q.Arch),
		slog.Int("found", len(matched)),
	)
	return &model.Container[*model.ArtifactRecord]{
		Path:  strings.TrimRight(q.Repo+"/"+q.Arch, "/"),
		Items: matched,
	}, nil
}

// anchored требует совпадения выражения со строкой целиком.
// Пустое выражение совпадает с любой строкой.
func anchored(pattern string) string {
	if pattern == "" {
		return ""
	}
	return "^(?:" + pattern + ")$"
}

// FindRepoEntries ищет записи о локальных репозиториях по префиксу имени,
// тегу и диапазону lastModified.
func (s *CatalogService) FindRepoEntries(ctx context.Context, q RepoEntryQuery) ([]*model.RepoEntry, error) {
	defer observe("find_repo_entries", time.Now())

	entries, err := s.entries.Find(ctx, repository.RepoEntryFilter{
		Types:      localRepoTypes,
		NamePrefix: q.NamePrefix,
		Tag:        q.Tag,
		Newer:      q.Newer,
		Older:      q.Older,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: поиск репозиториев: %w", ErrStoreUnavailable, err)
	}
	return entries, nil
}

// ValidRepoTypes возвращает типы репозиториев, которые обслуживает каталог.
func (s *CatalogService) ValidRepoTypes() []model.RepoType {
	return append([]model.RepoType(nil), localRepoTypes...)
}

// IsExternalRepo — каталог обслуживает только локальные репозитории.
func (s *CatalogService) IsExternalRepo(string) bool {
	return false
}

// RedirectURL не применим к локальным репозиториям.
func (s *CatalogService) RedirectURL(repo, _ string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrNotExternalRepo, repo)
}

// requireRepo проверяет существование репозитория.
func (s *CatalogService) requireRepo(ctx context.Context, repo string) error {
	if _, err := s.entries.GetByName(ctx, repo); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRepositoryNotFound, repo)
		}
		return fmt.Errorf("%w: получение репозитория %s: %w", ErrStoreUnavailable, repo, err)
	}
	return nil
}
