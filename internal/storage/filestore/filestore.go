// Пакет filestore — хранилище содержимого пакетов на локальном диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету и мягкое
// удаление маркером рядом с файлом. Байты удалённого пакета остаются
// на диске до внешней очистки.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
)

// DeletedSuffix — суффикс маркера мягкого удаления.
const DeletedSuffix = ".deleted"

// ErrInvalidKey — ключ содержимого недопустим.
var ErrInvalidKey = errors.New("недопустимый ключ содержимого")

// FileStore — содержимое пакетов в директории на диске.
type FileStore struct {
	// dataDir — корневая директория хранения (YM_BLOB_DIR)
	dataDir string
}

// New создаёт FileStore. Проверяет и создаёт директорию,
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// fullPath проверяет ключ и возвращает путь файла на диске.
// Ключ — относительный путь через "/", без выхода за пределы dataDir.
func (fs *FileStore) fullPath(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.HasSuffix(clean, DeletedSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.dataDir, filepath.FromSlash(clean)), nil
}

// Store записывает содержимое под ключом с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Store(ctx context.Context, key string, r io.Reader) (*model.BlobInfo, error) {
	fullPath, err := fs.fullPath(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &model.BlobInfo{
		Key:      key,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// SoftDelete создаёт маркер удаления рядом с файлом. Байты не удаляются.
// Повторный вызов и отсутствующий файл не являются ошибкой.
func (fs *FileStore) SoftDelete(_ context.Context, key string) error {
	fullPath, err := fs.fullPath(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}
	f, err := os.OpenFile(fullPath+DeletedSuffix, os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания маркера удаления %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия маркера удаления %s: %w", key, err)
	}
	return nil
}

// Exists проверяет наличие содержимого на диске.
func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := fs.fullPath(key)
	if err != nil {
		return false, err
	}
	return statExists(fullPath)
}

// IsMarkedDeleted проверяет наличие маркера удаления.
func (fs *FileStore) IsMarkedDeleted(_ context.Context, key string) (bool, error) {
	fullPath, err := fs.fullPath(key)
	if err != nil {
		return false, err
	}
	return statExists(fullPath + DeletedSuffix)
}

func statExists(p string) (bool, error) {
	_, err := os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка получения информации о файле: %w", err)
}
