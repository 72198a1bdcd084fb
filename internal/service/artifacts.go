// artifacts.go — приём, удаление и перенос пакетов между репозиториями.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

var artifactUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ym_artifact_uploads_total",
	Help: "Количество загрузок пакетов",
}, []string{"result"}) // result: created, replaced, error

// ChangeNotifier получает имя репозитория, содержимое которого изменилось.
// Реализуется планировщиком метаданных для немедленной регенерации индекса.
type ChangeNotifier interface {
	Trigger(repoName string) bool
}

// ArtifactService — изменение содержимого репозиториев.
// Метаданные пакетов и отметка об изменении репозитория меняются в одной
// транзакции; содержимое прежних версий помечается удалённым после фиксации.
type ArtifactService struct {
	repos     *RepoEntryService
	artifacts repository.ArtifactRepository
	tx        Transactor
	blobs     BlobStore
	notifier  ChangeNotifier
	now       func() time.Time
	logger    *slog.Logger
}

// NewArtifactService создаёт сервис пакетов.
func NewArtifactService(
	repos *RepoEntryService,
	artifacts repository.ArtifactRepository,
	tx Transactor,
	blobs BlobStore,
	logger *slog.Logger,
) *ArtifactService {
	return &ArtifactService{
		repos:     repos,
		artifacts: artifacts,
		tx:        tx,
		blobs:     blobs,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "artifacts")),
	}
}

// SetNotifier подключает получателя уведомлений об изменениях.
// Планировщик создаётся после сервисов, поэтому подключение отложенное.
func (s *ArtifactService) SetNotifier(n ChangeNotifier) {
	s.notifier = n
}

// validateMetadata проверяет метаданные загружаемого пакета.
func validateMetadata(meta model.PackageMetadata) error {
	switch {
	case meta.Filename == "" || path.Base(meta.Filename) != meta.Filename || meta.Filename == "." || meta.Filename == "..":
		return fmt.Errorf("%w: недопустимое имя файла %q", ErrValidation, meta.Filename)
	case !strings.HasSuffix(meta.Filename, ".rpm"):
		return fmt.Errorf("%w: файл %q не является rpm-пакетом", ErrValidation, meta.Filename)
	case meta.Name == "":
		return fmt.Errorf("%w: не указано имя пакета", ErrValidation)
	case meta.Arch == "" || strings.ContainsAny(meta.Arch, "/\\"):
		return fmt.Errorf("%w: недопустимая архитектура %q", ErrValidation, meta.Arch)
	case meta.Version.Ver == "":
		return fmt.Errorf("%w: не указана версия пакета", ErrValidation)
	case meta.Version.Epoch < 0:
		return fmt.Errorf("%w: отрицательная эпоха %d", ErrValidation, meta.Version.Epoch)
	}
	return nil
}

// Upload сохраняет пакет в репозиторий, заменяя активный файл с тем же именем
// и архитектурой. Репозиторий создаётся как STATIC, если его нет.
func (s *ArtifactService) Upload(
	ctx context.Context, repo string, meta model.PackageMetadata, content io.Reader,
) (*model.ArtifactRecord, error) {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return nil, err
	}
	if err := ValidateRepoName(repo); err != nil {
		return nil, err
	}
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}

	if _, err := s.repos.Ensure(ctx, repo, model.RepoTypeStatic); err != nil {
		artifactUploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	id := uuid.New().String()
	key := id + "/" + meta.Filename
	blob, err := s.blobs.Store(ctx, key, content)
	if err != nil {
		artifactUploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: сохранение %s: %w", ErrStoreUnavailable, key, err)
	}

	now := s.now()
	record := &model.ArtifactRecord{
		ID:          id,
		Filename:    meta.Filename,
		Repo:        repo,
		Arch:        meta.Arch,
		PackageName: meta.Name,
		Version:     meta.Version,
		BuildTime:   meta.BuildTime,
		Length:      blob.Size,
		UploadDate:  now,
		ContentRef:  blob.Key,
		Checksum:    blob.Checksum,
	}

	var old *model.ArtifactRecord
	err = s.tx.InTx(ctx, func(st repository.Stores) error {
		var err error
		if old, err = retire(ctx, st.Artifacts, repo, meta.Arch, meta.Filename, now); err != nil {
			return err
		}
		if err := st.Artifacts.Create(ctx, record); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: параллельная загрузка %s/%s/%s", ErrValidation, repo, meta.Arch, meta.Filename)
			}
			return fmt.Errorf("%w: регистрация пакета: %w", ErrStoreUnavailable, err)
		}
		if err := st.Entries.Touch(ctx, repo, now); err != nil {
			return mapEntryErr(repo, err)
		}
		return nil
	})
	if err != nil {
		artifactUploadsTotal.WithLabelValues("error").Inc()
		// Новое содержимое не попало в метаданные.
		s.discard(ctx, blob.Key)
		return nil, txErr("загрузка пакета", err)
	}

	if old != nil {
		s.discard(ctx, old.ContentRef)
	}
	s.notify(repo)

	result := "created"
	if old != nil {
		result = "replaced"
	}
	artifactUploadsTotal.WithLabelValues(result).Inc()

	s.logger.Info("Пакет загружен",
		slog.String("repo", repo),
		slog.String("arch", meta.Arch),
		slog.String("filename", meta.Filename),
		slog.String("version", meta.Version.String()),
		slog.Int64("size", blob.Size),
		slog.Bool("replaced", old != nil),
	)
	return record, nil
}

// retire помечает удалённым активный пакет с тем же (repo, arch, filename)
// и возвращает его. nil — активного пакета не было.
func retire(
	ctx context.Context, artifacts repository.ArtifactRepository, repo, arch, filename string, at time.Time,
) (*model.ArtifactRecord, error) {
	old, err := artifacts.GetActive(ctx, repo, arch, filename)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: поиск пакета: %w", ErrStoreUnavailable, err)
	}
	if _, err := artifacts.MarkDeleted(ctx, []string{old.ID}, at); err != nil {
		return nil, fmt.Errorf("%w: пометка пакета %s: %w", ErrStoreUnavailable, old.ID, err)
	}
	return old, nil
}

// Delete помечает пакет удалённым.
func (s *ArtifactService) Delete(ctx context.Context, repo, arch, filename string) error {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return err
	}

	now := s.now()
	var old *model.ArtifactRecord
	err := s.tx.InTx(ctx, func(st repository.Stores) error {
		var err error
		if old, err = retire(ctx, st.Artifacts, repo, arch, filename, now); err != nil {
			return err
		}
		if old == nil {
			return fmt.Errorf("%w: %s/%s/%s", ErrArtifactNotFound, repo, arch, filename)
		}
		if err := st.Entries.Touch(ctx, repo, now); err != nil {
			return mapEntryErr(repo, err)
		}
		return nil
	})
	if err != nil {
		return txErr("удаление пакета", err)
	}

	s.discard(ctx, old.ContentRef)
	s.notify(repo)

	s.logger.Info("Пакет удалён",
		slog.String("repo", repo),
		slog.String("arch", arch),
		slog.String("filename", filename),
	)
	return nil
}

// Propagate переносит активный пакет в другой репозиторий. Целевой репозиторий
// создаётся, если его нет; активный файл с тем же именем в нём заменяется.
// Содержимое не копируется.
func (s *ArtifactService) Propagate(ctx context.Context, sourceRepo, arch, filename, targetRepo string) (*model.ArtifactRecord, error) {
	if err := rbac.RequireAuthority(ctx, rbac.AuthorityRepoWrite); err != nil {
		return nil, err
	}
	if err := ValidateRepoName(targetRepo); err != nil {
		return nil, err
	}
	if sourceRepo == targetRepo {
		return nil, fmt.Errorf("%w: исходный и целевой репозиторий совпадают", ErrValidation)
	}

	record, err := s.artifacts.GetActive(ctx, sourceRepo, arch, filename)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrArtifactNotFound, sourceRepo, arch, filename)
		}
		return nil, fmt.Errorf("%w: поиск пакета: %w", ErrStoreUnavailable, err)
	}

	if _, err := s.repos.Ensure(ctx, targetRepo, model.RepoTypeStatic); err != nil {
		return nil, err
	}

	now := s.now()
	var old *model.ArtifactRecord
	err = s.tx.InTx(ctx, func(st repository.Stores) error {
		var err error
		if old, err = retire(ctx, st.Artifacts, targetRepo, arch, filename, now); err != nil {
			return err
		}
		if err := st.Artifacts.MoveToRepo(ctx, record.ID, targetRepo); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrArtifactNotFound, record.ID)
			}
			return fmt.Errorf("%w: перенос пакета: %w", ErrStoreUnavailable, err)
		}
		for _, repo := range []string{sourceRepo, targetRepo} {
			if err := st.Entries.Touch(ctx, repo, now); err != nil {
				return mapEntryErr(repo, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, txErr("перенос пакета", err)
	}
	record.Repo = targetRepo

	if old != nil {
		s.discard(ctx, old.ContentRef)
	}
	s.notify(sourceRepo)
	s.notify(targetRepo)

	s.logger.Info("Пакет перенесён",
		slog.String("from", sourceRepo),
		slog.String("to", targetRepo),
		slog.String("arch", arch),
		slog.String("filename", filename),
	)
	return record, nil
}

// discard помечает содержимое удалённым. Метаданные на него уже не ссылаются,
// поэтому сбой только пишется в лог. Отмена запроса пометку не прерывает.
func (s *ArtifactService) discard(ctx context.Context, key string) {
	if err := s.blobs.SoftDelete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("Не удалось пометить содержимое удалённым",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// notify уведомляет планировщик об изменении репозитория.
func (s *ArtifactService) notify(repo string) {
	if s.notifier != nil {
		s.notifier.Trigger(repo)
	}
}
