package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

// testLogger — логгер, выводящий только ошибки.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// systemCtx — context с системным принципалом.
func systemCtx() context.Context {
	return rbac.WithPrincipal(context.Background(), rbac.SystemPrincipal())
}

// --- Mock RepoEntryRepository ---

// mockEntryRepo — мок RepoEntryRepository для unit-тестов.
type mockEntryRepo struct {
	createFn         func(ctx context.Context, e *model.RepoEntry) error
	getByNameFn      func(ctx context.Context, name string) (*model.RepoEntry, error)
	listByTypesFn    func(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error)
	findFn           func(ctx context.Context, f repository.RepoEntryFilter) ([]*model.RepoEntry, error)
	updateTypeFn     func(ctx context.Context, name string, t model.RepoType) error
	setMaxKeepFn     func(ctx context.Context, name string, n int) error
	setMaxDaysFn     func(ctx context.Context, name string, days int) error
	setTagsFn        func(ctx context.Context, name string, tags []string) error
	touchFn          func(ctx context.Context, name string, at time.Time) error
	markGeneratedFn  func(ctx context.Context, name string, seq, revision int64, at time.Time) error
	deleteFn         func(ctx context.Context, name string) error
	touched          []string
}

func (m *mockEntryRepo) Create(ctx context.Context, e *model.RepoEntry) error {
	if m.createFn != nil {
		return m.createFn(ctx, e)
	}
	return nil
}

func (m *mockEntryRepo) GetByName(ctx context.Context, name string) (*model.RepoEntry, error) {
	if m.getByNameFn != nil {
		return m.getByNameFn(ctx, name)
	}
	return nil, repository.ErrNotFound
}

func (m *mockEntryRepo) ListByTypes(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error) {
	if m.listByTypesFn != nil {
		return m.listByTypesFn(ctx, types...)
	}
	return nil, nil
}

func (m *mockEntryRepo) Find(ctx context.Context, f repository.RepoEntryFilter) ([]*model.RepoEntry, error) {
	if m.findFn != nil {
		return m.findFn(ctx, f)
	}
	return nil, nil
}

func (m *mockEntryRepo) UpdateType(ctx context.Context, name string, t model.RepoType) error {
	if m.updateTypeFn != nil {
		return m.updateTypeFn(ctx, name, t)
	}
	return nil
}

func (m *mockEntryRepo) SetMaxKeepRpms(ctx context.Context, name string, n int) error {
	if m.setMaxKeepFn != nil {
		return m.setMaxKeepFn(ctx, name, n)
	}
	return nil
}

func (m *mockEntryRepo) SetMaxDaysRpms(ctx context.Context, name string, days int) error {
	if m.setMaxDaysFn != nil {
		return m.setMaxDaysFn(ctx, name, days)
	}
	return nil
}

func (m *mockEntryRepo) SetTags(ctx context.Context, name string, tags []string) error {
	if m.setTagsFn != nil {
		return m.setTagsFn(ctx, name, tags)
	}
	return nil
}

func (m *mockEntryRepo) Touch(ctx context.Context, name string, at time.Time) error {
	m.touched = append(m.touched, name)
	if m.touchFn != nil {
		return m.touchFn(ctx, name, at)
	}
	return nil
}

func (m *mockEntryRepo) MarkGenerated(ctx context.Context, name string, seq, revision int64, at time.Time) error {
	if m.markGeneratedFn != nil {
		return m.markGeneratedFn(ctx, name, seq, revision, at)
	}
	return nil
}

func (m *mockEntryRepo) Delete(ctx context.Context, name string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, name)
	}
	return nil
}

// --- Mock ArtifactRepository ---

// mockArtifactRepo — мок ArtifactRepository для unit-тестов.
type mockArtifactRepo struct {
	createFn          func(ctx context.Context, a *model.ArtifactRecord) error
	getActiveFn       func(ctx context.Context, repo, arch, filename string) (*model.ArtifactRecord, error)
	listActiveFn      func(ctx context.Context, repo string) ([]*model.ArtifactRecord, error)
	listByRepoArchFn  func(ctx context.Context, repo, arch string, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error)
	findFn            func(ctx context.Context, f repository.ArtifactFilter, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error)
	aggregateByRepoFn func(ctx context.Context) ([]*model.FolderInfo, error)
	aggregateByArchFn func(ctx context.Context, repo string) ([]*model.FolderInfo, error)
	markDeletedFn     func(ctx context.Context, ids []string, at time.Time) (int, error)
	moveToRepoFn      func(ctx context.Context, id, targetRepo string) error
}

func (m *mockArtifactRepo) Create(ctx context.Context, a *model.ArtifactRecord) error {
	if m.createFn != nil {
		return m.createFn(ctx, a)
	}
	return nil
}

func (m *mockArtifactRepo) GetActive(ctx context.Context, repo, arch, filename string) (*model.ArtifactRecord, error) {
	if m.getActiveFn != nil {
		return m.getActiveFn(ctx, repo, arch, filename)
	}
	return nil, repository.ErrNotFound
}

func (m *mockArtifactRepo) ListActive(ctx context.Context, repo string) ([]*model.ArtifactRecord, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx, repo)
	}
	return nil, nil
}

func (m *mockArtifactRepo) ListByRepoArch(ctx context.Context, repo, arch string, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error) {
	if m.listByRepoArchFn != nil {
		return m.listByRepoArchFn(ctx, repo, arch, sortBy, order)
	}
	return nil, nil
}

func (m *mockArtifactRepo) Find(ctx context.Context, f repository.ArtifactFilter, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error) {
	if m.findFn != nil {
		return m.findFn(ctx, f, sortBy, order)
	}
	return nil, nil
}

func (m *mockArtifactRepo) AggregateByRepo(ctx context.Context) ([]*model.FolderInfo, error) {
	if m.aggregateByRepoFn != nil {
		return m.aggregateByRepoFn(ctx)
	}
	return nil, nil
}

func (m *mockArtifactRepo) AggregateByArch(ctx context.Context, repo string) ([]*model.FolderInfo, error) {
	if m.aggregateByArchFn != nil {
		return m.aggregateByArchFn(ctx, repo)
	}
	return nil, nil
}

func (m *mockArtifactRepo) MarkDeleted(ctx context.Context, ids []string, at time.Time) (int, error) {
	if m.markDeletedFn != nil {
		return m.markDeletedFn(ctx, ids, at)
	}
	return len(ids), nil
}

func (m *mockArtifactRepo) MoveToRepo(ctx context.Context, id, targetRepo string) error {
	if m.moveToRepoFn != nil {
		return m.moveToRepoFn(ctx, id, targetRepo)
	}
	return nil
}

// --- Mock BlobStore ---

// mockBlobStore — мок BlobStore: запоминает сохранённые и помеченные ключи.
type mockBlobStore struct {
	storeFn      func(ctx context.Context, key string, r io.Reader) (*model.BlobInfo, error)
	softDeleteFn func(ctx context.Context, key string) error
	existsFn     func(ctx context.Context, key string) (bool, error)
	stored       map[string][]byte
	softDeleted  []string
}

func (m *mockBlobStore) Store(ctx context.Context, key string, r io.Reader) (*model.BlobInfo, error) {
	if m.storeFn != nil {
		return m.storeFn(ctx, key, r)
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return nil, err
	}
	if m.stored == nil {
		m.stored = make(map[string][]byte)
	}
	m.stored[key] = buf.Bytes()
	return &model.BlobInfo{Key: key, Size: n, Checksum: "sha256-" + key}, nil
}

func (m *mockBlobStore) SoftDelete(ctx context.Context, key string) error {
	if m.softDeleteFn != nil {
		if err := m.softDeleteFn(ctx, key); err != nil {
			return err
		}
	}
	m.softDeleted = append(m.softDeleted, key)
	return nil
}

func (m *mockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	_, ok := m.stored[key]
	return ok, nil
}

// --- Mock Transactor ---

// mockTx — мок Transactor поверх мок-репозиториев. snapshot, если задан,
// сохраняет состояние перед транзакцией и возвращает функцию его восстановления.
type mockTx struct {
	entries   *mockEntryRepo
	artifacts *mockArtifactRepo
	snapshot  func() (restore func())
	commits   int
	rollbacks int
}

func (m *mockTx) InTx(_ context.Context, fn func(s repository.Stores) error) error {
	var restore func()
	if m.snapshot != nil {
		restore = m.snapshot()
	}
	if err := fn(repository.Stores{Entries: m.entries, Artifacts: m.artifacts}); err != nil {
		m.rollbacks++
		if restore != nil {
			restore()
		}
		return err
	}
	m.commits++
	return nil
}
