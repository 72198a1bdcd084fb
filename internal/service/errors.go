// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/rbac"
)

var (
	// ErrRepositoryNotFound — репозиторий не существует.
	ErrRepositoryNotFound = errors.New("репозиторий не найден")
	// ErrRepositoryExists — репозиторий с таким именем уже есть.
	ErrRepositoryExists = errors.New("репозиторий уже существует")
	// ErrArtifactNotFound — пакет не найден.
	ErrArtifactNotFound = errors.New("пакет не найден")
	// ErrInvalidPolicyConfiguration — недопустимые параметры политики хранения.
	ErrInvalidPolicyConfiguration = errors.New("недопустимая политика хранения")
	// ErrStoreUnavailable — хранилище метаданных или пакетов временно недоступно.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrGeneratorFailure — ошибка генерации индекса репозитория.
	ErrGeneratorFailure = errors.New("ошибка генерации индекса")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotExternalRepo — операция применима только к внешним репозиториям.
	ErrNotExternalRepo = errors.New("репозиторий не является внешним")
	// ErrForbidden — недостаточно полномочий.
	ErrForbidden = rbac.ErrForbidden
)
