package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// errReader возвращает ошибку после первых байтов.
type errReader struct{ n int }

func (r *errReader) Read(p []byte) (int, error) {
	if r.n > 0 {
		r.n = 0
		p[0] = 'x'
		return 1, nil
	}
	return 0, errors.New("обрыв соединения")
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := New(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	return fs
}

// TestNew_CreatesDirectory проверяет создание директории данных.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	fs, err := New(dir)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	if fs.DataDir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, fs.DataDir())
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("директория не создана: %v", err)
	}
}

// TestStore проверяет сохранение содержимого с подсчётом SHA-256.
func TestStore(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	content := []byte("rpm payload — тестовые данные")
	info, err := fs.Store(ctx, "0d2f/foo-1.0-1.noarch.rpm", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	if info.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), info.Size)
	}
	sum := sha256.Sum256(content)
	if info.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: получено %s", info.Checksum)
	}
	if info.Key != "0d2f/foo-1.0-1.noarch.rpm" {
		t.Errorf("ключ: получено %s", info.Key)
	}

	data, err := os.ReadFile(filepath.Join(fs.DataDir(), "0d2f", "foo-1.0-1.noarch.rpm"))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое файла не совпадает")
	}

	ok, err := fs.Exists(ctx, info.Key)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v; ожидалось true", ok, err)
	}
}

// TestStore_FailedWriteLeavesNothing — при ошибке чтения не остаётся ни файла, ни temp.
func TestStore_FailedWriteLeavesNothing(t *testing.T) {
	fs := newTestStore(t)

	_, err := fs.Store(context.Background(), "k/foo.rpm", &errReader{n: 1})
	if err == nil {
		t.Fatal("ожидалась ошибка записи")
	}

	entries, err := os.ReadDir(filepath.Join(fs.DataDir(), "k"))
	if err != nil {
		t.Fatalf("ошибка чтения директории: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("остались файлы: %s", strings.Join(names, ", "))
	}
}

// TestSoftDelete — маркер создаётся, байты остаются.
func TestSoftDelete(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if _, err := fs.Store(ctx, "a/foo.rpm", strings.NewReader("data")); err != nil {
		t.Fatalf("ошибка сохранения: %v", err)
	}

	marked, err := fs.IsMarkedDeleted(ctx, "a/foo.rpm")
	if err != nil || marked {
		t.Fatalf("IsMarkedDeleted до удаления = %v, %v", marked, err)
	}

	for range 2 {
		if err := fs.SoftDelete(ctx, "a/foo.rpm"); err != nil {
			t.Fatalf("SoftDelete ошибка: %v", err)
		}
	}

	marked, err = fs.IsMarkedDeleted(ctx, "a/foo.rpm")
	if err != nil || !marked {
		t.Errorf("IsMarkedDeleted = %v, %v; ожидалось true", marked, err)
	}
	if ok, _ := fs.Exists(ctx, "a/foo.rpm"); !ok {
		t.Error("байты удалены при мягком удалении")
	}
}

func TestExists_Missing(t *testing.T) {
	fs := newTestStore(t)

	ok, err := fs.Exists(context.Background(), ".readiness-probe")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v; ожидалось false, nil", ok, err)
	}
}

func TestInvalidKeys(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	keys := []string{
		"",
		"/etc/passwd",
		"../escape.rpm",
		"a/../../escape.rpm",
		"a//b.rpm",
		"a/./b.rpm",
		"a\\b.rpm",
		"a/b.rpm" + DeletedSuffix,
		"..",
	}
	for _, key := range keys {
		if _, err := fs.Store(ctx, key, strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Store(%q): ошибка = %v, ожидалась ErrInvalidKey", key, err)
		}
		if err := fs.SoftDelete(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("SoftDelete(%q): ошибка = %v, ожидалась ErrInvalidKey", key, err)
		}
	}
}
