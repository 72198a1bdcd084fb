// Пакет model — доменные модели Yum Module.
package model

import (
	"fmt"
	"time"
)

// RepoType — тип репозитория.
type RepoType string

// Типы репозиториев.
const (
	// RepoTypeStatic — репозиторий, индекс которого не генерируется планировщиком.
	RepoTypeStatic RepoType = "STATIC"
	// RepoTypeScheduled — репозиторий с периодической генерацией индекса.
	RepoTypeScheduled RepoType = "SCHEDULED"
	// RepoTypeExternal — зеркало внешнего репозитория (обслуживается отдельно).
	RepoTypeExternal RepoType = "EXTERNAL"
)

// ParseRepoType преобразует строку в RepoType.
func ParseRepoType(s string) (RepoType, error) {
	switch RepoType(s) {
	case RepoTypeStatic, RepoTypeScheduled, RepoTypeExternal:
		return RepoType(s), nil
	default:
		return "", fmt.Errorf("недопустимый тип репозитория %q", s)
	}
}

// IsLocal сообщает, управляется ли репозиторий локально (STATIC или SCHEDULED).
func (t RepoType) IsLocal() bool {
	return t == RepoTypeStatic || t == RepoTypeScheduled
}

// RepoEntry — запись о репозитории (таблица repo_entries).
type RepoEntry struct {
	// Name — уникальное имя репозитория
	Name string
	// Type — тип репозитория
	Type RepoType
	// MaxKeepRpms — сколько последних версий пакета хранить (0 — без ограничения)
	MaxKeepRpms int
	// MaxDaysRpms — максимальный возраст пакета в днях (0 — без ограничения)
	MaxDaysRpms int
	// Tags — набор тегов без повторов
	Tags []string
	// LastModified — время последнего изменения содержимого
	LastModified time.Time

	// ModificationSeq увеличивается при каждом изменении репозитория.
	ModificationSeq int64
	// GeneratedSeq — значение ModificationSeq, покрытое последней генерацией индекса.
	GeneratedSeq int64
	// Revision — токен ревизии последнего сгенерированного индекса
	Revision int64
	// LastGeneratedAt — время последней успешной генерации индекса
	LastGeneratedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDirty сообщает, что индекс репозитория не отражает текущий набор пакетов.
func (e *RepoEntry) IsDirty() bool {
	return e.ModificationSeq > e.GeneratedSeq
}

// RetentionEnabled сообщает, включена ли хотя бы одна политика хранения.
func (e *RepoEntry) RetentionEnabled() bool {
	return e.MaxKeepRpms > 0 || e.MaxDaysRpms > 0
}

// IndexState — состояние индекса репозитория.
type IndexState string

// Состояния индекса.
const (
	IndexFresh        IndexState = "fresh"
	IndexDirty        IndexState = "dirty"
	IndexRegenerating IndexState = "regenerating"
)
