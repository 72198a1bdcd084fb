// blob.go — интерфейс хранилища содержимого пакетов.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
)

// BlobStore — хранилище содержимого пакетов.
// Физическое удаление выполняет внешний процесс; ядро только помечает
// содержимое удалённым.
type BlobStore interface {
	// Store сохраняет содержимое под ключом, вычисляя размер и SHA-256.
	Store(ctx context.Context, key string, r io.Reader) (*model.BlobInfo, error)
	// SoftDelete помечает содержимое удалённым, не стирая байты.
	SoftDelete(ctx context.Context, key string) error
	// Exists проверяет наличие содержимого.
	Exists(ctx context.Context, key string) (bool, error)
}

// BlobReadinessChecker — проверка готовности хранилища пакетов для health endpoint.
type BlobReadinessChecker struct {
	store BlobStore
}

// NewBlobReadinessChecker создаёт проверку готовности хранилища пакетов.
func NewBlobReadinessChecker(store BlobStore) *BlobReadinessChecker {
	return &BlobReadinessChecker{store: store}
}

// readinessProbeKey — ключ, по которому проверяется доступность хранилища.
const readinessProbeKey = ".readiness-probe"

// CheckReady проверяет хранилище вызовом Exists для служебного ключа.
func (c *BlobReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := c.store.Exists(ctx, readinessProbeKey); err != nil {
		return "fail", fmt.Sprintf("хранилище пакетов недоступно: %v", err)
	}
	return "ok", "хранилище доступно"
}
