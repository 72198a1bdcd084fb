package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
	"github.com/bigkaa/goartstore/yum-module/internal/repository"
	"github.com/bigkaa/goartstore/yum-module/internal/service"
)

// memEntries — EntryStore в памяти, безопасный для параллельного доступа.
type memEntries struct {
	mu      sync.Mutex
	entries map[string]*model.RepoEntry
	marks   chan markCall
}

type markCall struct {
	name     string
	seq      int64
	revision int64
}

func newMemEntries(entries ...*model.RepoEntry) *memEntries {
	m := &memEntries{entries: make(map[string]*model.RepoEntry), marks: make(chan markCall, 16)}
	for _, e := range entries {
		m.entries[e.Name] = e
	}
	return m
}

func (m *memEntries) GetByName(_ context.Context, name string) (*model.RepoEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *memEntries) ListByTypes(_ context.Context, types ...model.RepoType) ([]*model.RepoEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.RepoEntry
	for _, e := range m.entries {
		for _, t := range types {
			if e.Type == t {
				c := *e
				out = append(out, &c)
			}
		}
	}
	return out, nil
}

func (m *memEntries) MarkGenerated(_ context.Context, name string, seq, revision int64, at time.Time) error {
	m.mu.Lock()
	e := m.entries[name]
	e.GeneratedSeq = max(e.GeneratedSeq, seq)
	e.Revision = revision
	e.LastGeneratedAt = &at
	m.mu.Unlock()
	m.marks <- markCall{name: name, seq: seq, revision: revision}
	return nil
}

// touch имитирует изменение содержимого репозитория.
func (m *memEntries) touch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name].ModificationSeq++
}

// funcGenerator — Generator на функции.
type funcGenerator func(ctx context.Context, repo string, revision int64) error

func (f funcGenerator) Generate(ctx context.Context, repo string, revision int64) error {
	return f(ctx, repo, revision)
}

var schedNow = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestMetadataScheduler(t *testing.T, entries *memEntries, gen Generator, pool *Pool) *MetadataScheduler {
	t.Helper()
	s := NewMetadataScheduler(entries, gen, pool, time.Hour, testLogger())
	s.now = func() time.Time { return schedNow }
	return s
}

func waitMark(t *testing.T, marks <-chan markCall) markCall {
	t.Helper()
	select {
	case m := <-marks:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("таймаут ожидания MarkGenerated")
		return markCall{}
	}
}

// eventually ждёт выполнения условия.
func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("условие не выполнено: %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestMetadataScheduler_TickGeneratesDirty — генерация ставится только
// для изменённых SCHEDULED-репозиториев.
func TestMetadataScheduler_TickGeneratesDirty(t *testing.T) {
	entries := newMemEntries(
		&model.RepoEntry{Name: "dirty", Type: model.RepoTypeScheduled, ModificationSeq: 3, GeneratedSeq: 1, Revision: 5},
		&model.RepoEntry{Name: "fresh", Type: model.RepoTypeScheduled, ModificationSeq: 2, GeneratedSeq: 2},
		&model.RepoEntry{Name: "static", Type: model.RepoTypeStatic, ModificationSeq: 9, GeneratedSeq: 0},
	)
	var mu sync.Mutex
	var generated []string
	gen := funcGenerator(func(_ context.Context, repo string, _ int64) error {
		mu.Lock()
		generated = append(generated, repo)
		mu.Unlock()
		return nil
	})
	s := newTestMetadataScheduler(t, entries, gen, newTestPool(t, 2, 8))

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick ошибка: %v", err)
	}
	if n != 1 {
		t.Errorf("поставлено задач %d, ожидалась 1", n)
	}

	mark := waitMark(t, entries.marks)
	if mark.name != "dirty" || mark.seq != 3 {
		t.Errorf("MarkGenerated(%s, seq=%d), ожидалось (dirty, 3)", mark.name, mark.seq)
	}
	if mark.revision != schedNow.Unix() {
		t.Errorf("revision = %d, ожидалось %d", mark.revision, schedNow.Unix())
	}

	eventually(t, func() bool { return !s.locks.Locked("dirty") }, "освобождение блокировки")
	state, err := s.State(context.Background(), "dirty")
	if err != nil || state != model.IndexFresh {
		t.Errorf("State = %s, %v; ожидалось fresh", state, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(generated) != 1 {
		t.Errorf("сгенерировано %v, ожидался только dirty", generated)
	}
}

// TestMetadataScheduler_RevisionMonotonic — ревизия растёт, даже если часы отстают.
func TestMetadataScheduler_RevisionMonotonic(t *testing.T) {
	prev := schedNow.Unix() + 1000
	entries := newMemEntries(&model.RepoEntry{Name: "r", Type: model.RepoTypeScheduled, ModificationSeq: 2, GeneratedSeq: 1, Revision: prev})
	var got int64
	gen := funcGenerator(func(_ context.Context, _ string, revision int64) error {
		got = revision
		return nil
	})
	s := newTestMetadataScheduler(t, entries, gen, newTestPool(t, 1, 1))

	if !s.Trigger("r") {
		t.Fatal("Trigger = false")
	}
	mark := waitMark(t, entries.marks)
	if got != prev+1 || mark.revision != prev+1 {
		t.Errorf("revision = %d, ожидалось %d", got, prev+1)
	}
}

// TestMetadataScheduler_ChangeDuringGeneration — изменение во время генерации
// оставляет репозиторий dirty.
func TestMetadataScheduler_ChangeDuringGeneration(t *testing.T) {
	entries := newMemEntries(&model.RepoEntry{Name: "r", Type: model.RepoTypeScheduled, ModificationSeq: 1})
	gen := funcGenerator(func(context.Context, string, int64) error {
		entries.touch("r")
		return nil
	})
	s := newTestMetadataScheduler(t, entries, gen, newTestPool(t, 1, 1))

	if !s.Trigger("r") {
		t.Fatal("Trigger = false")
	}
	if mark := waitMark(t, entries.marks); mark.seq != 1 {
		t.Errorf("seq = %d, ожидался снимок 1", mark.seq)
	}
	eventually(t, func() bool { return !s.locks.Locked("r") }, "освобождение блокировки")

	state, err := s.State(context.Background(), "r")
	if err != nil || state != model.IndexDirty {
		t.Errorf("State = %s, %v; ожидалось dirty", state, err)
	}
}

// TestMetadataScheduler_BusySkipped — занятый репозиторий пропускается,
// состояние — regenerating.
func TestMetadataScheduler_BusySkipped(t *testing.T) {
	entries := newMemEntries(&model.RepoEntry{Name: "r", Type: model.RepoTypeScheduled, ModificationSeq: 2})
	started := make(chan struct{})
	block := make(chan struct{})
	gen := funcGenerator(func(context.Context, string, int64) error {
		close(started)
		<-block
		return nil
	})
	s := newTestMetadataScheduler(t, entries, gen, newTestPool(t, 2, 4))

	if !s.Trigger("r") {
		t.Fatal("первый Trigger = false")
	}
	waitFor(t, started, "старт генерации")

	if s.Trigger("r") {
		t.Error("второй Trigger = true для занятого репозитория")
	}
	if state, _ := s.State(context.Background(), "r"); state != model.IndexRegenerating {
		t.Errorf("State = %s, ожидалось regenerating", state)
	}

	close(block)
	waitMark(t, entries.marks)
}

func TestMetadataScheduler_Regenerate(t *testing.T) {
	failing := funcGenerator(func(context.Context, string, int64) error { return errors.New("нет места") })

	t.Run("ошибка генератора", func(t *testing.T) {
		entries := newMemEntries(&model.RepoEntry{Name: "r", Type: model.RepoTypeScheduled, ModificationSeq: 2})
		s := newTestMetadataScheduler(t, entries, failing, newTestPool(t, 1, 1))

		err := s.regenerate(context.Background(), "r")
		if !errors.Is(err, service.ErrGeneratorFailure) {
			t.Errorf("ошибка = %v, ожидалась ErrGeneratorFailure", err)
		}
		if len(entries.marks) != 0 {
			t.Error("MarkGenerated вызван после ошибки генерации")
		}
		if state, _ := s.State(context.Background(), "r"); state != model.IndexDirty {
			t.Errorf("State = %s, ожидалось dirty", state)
		}
	})

	t.Run("неизвестный репозиторий", func(t *testing.T) {
		s := newTestMetadataScheduler(t, newMemEntries(), failing, newTestPool(t, 1, 1))
		if err := s.regenerate(context.Background(), "missing"); !errors.Is(err, service.ErrRepositoryNotFound) {
			t.Errorf("ошибка = %v, ожидалась ErrRepositoryNotFound", err)
		}
		if _, err := s.State(context.Background(), "missing"); !errors.Is(err, service.ErrRepositoryNotFound) {
			t.Errorf("State: ошибка = %v, ожидалась ErrRepositoryNotFound", err)
		}
	})

	t.Run("STATIC не генерируется", func(t *testing.T) {
		entries := newMemEntries(&model.RepoEntry{Name: "s", Type: model.RepoTypeStatic, ModificationSeq: 2})
		s := newTestMetadataScheduler(t, entries, failing, newTestPool(t, 1, 1))
		if err := s.regenerate(context.Background(), "s"); err != nil {
			t.Errorf("ошибка = %v, ожидался nil", err)
		}
	})
}

// TestMetadataScheduler_QueueFullReleasesLock — непринятая задача освобождает блокировку.
func TestMetadataScheduler_QueueFullReleasesLock(t *testing.T) {
	entries := newMemEntries(&model.RepoEntry{Name: "r", Type: model.RepoTypeScheduled, ModificationSeq: 2})
	pool := NewPool(1, 0, rbac.SystemPrincipal(), testLogger())
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop ошибка: %v", err)
	}
	s := newTestMetadataScheduler(t, entries, funcGenerator(func(context.Context, string, int64) error { return nil }), pool)

	if s.Trigger("r") {
		t.Error("Trigger = true для остановленного пула")
	}
	if s.locks.Locked("r") {
		t.Error("блокировка не освобождена")
	}
}
