// tx.go — транзакционная граница сервисного слоя.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/yum-module/internal/repository"
)

// Transactor выполняет функцию с репозиториями, привязанными к одной
// транзакции. Ошибка функции откатывает все изменения.
// Реализуется *repository.TxRunner.
type Transactor interface {
	InTx(ctx context.Context, fn func(s repository.Stores) error) error
}

// serviceErrs — ошибки, которые уже переведены в термины сервиса.
var serviceErrs = []error{
	ErrRepositoryNotFound,
	ErrRepositoryExists,
	ErrArtifactNotFound,
	ErrInvalidPolicyConfiguration,
	ErrStoreUnavailable,
	ErrValidation,
	ErrForbidden,
}

// txErr возвращает ошибку сервиса без изменений, остальные ошибки
// (начало и фиксация транзакции) переводит в ErrStoreUnavailable.
func txErr(op string, err error) error {
	for _, known := range serviceErrs {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
