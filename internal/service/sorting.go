// sorting.go — сортировка списков каталога.
// Компаратор выбирается по полю из таблицы, направление задаётся
// обобщённым декоратором Reverse. Каждый компаратор завершается сравнением
// по уникальному ключу, поэтому порядок полный и desc — точное
// обращение asc.
package service

import (
	"cmp"
	"slices"
	"strings"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rpmver"
)

// Comparator — функция сравнения: <0, 0, >0.
type Comparator[T any] func(a, b T) int

// Reverse возвращает компаратор с обратным порядком.
func Reverse[T any](c Comparator[T]) Comparator[T] {
	return func(a, b T) int { return c(b, a) }
}

// Ordered применяет направление сортировки к компаратору.
func Ordered[T any](c Comparator[T], order model.SortOrder) Comparator[T] {
	if order == model.SortDesc {
		return Reverse(c)
	}
	return c
}

// thenBy объединяет компараторы: следующий применяется при равенстве предыдущего.
func thenBy[T any](cs ...Comparator[T]) Comparator[T] {
	return func(a, b T) int {
		for _, c := range cs {
			if r := c(a, b); r != 0 {
				return r
			}
		}
		return 0
	}
}

// --- Папки (репозитории и архитектуры) ---

func folderByName(a, b *model.FolderInfo) int { return strings.Compare(a.Name, b.Name) }

func folderBySize(a, b *model.FolderInfo) int { return cmp.Compare(a.Size, b.Size) }

func folderByDate(a, b *model.FolderInfo) int { return a.LastModified.Compare(b.LastModified) }

// folderComparators — компараторы папок по полю сортировки.
// Имя папки уникально в пределах списка и служит последним ключом.
var folderComparators = map[model.SortField]Comparator[*model.FolderInfo]{
	model.SortByName:       folderByName,
	model.SortByUploadDate: thenBy[*model.FolderInfo](folderByDate, folderByName),
	model.SortBySize:       thenBy[*model.FolderInfo](folderBySize, folderByName),
}

// FolderComparator возвращает компаратор папок. Неизвестное поле — сортировка по имени.
func FolderComparator(sortBy model.SortField, order model.SortOrder) Comparator[*model.FolderInfo] {
	c, ok := folderComparators[sortBy]
	if !ok {
		c = folderByName
	}
	return Ordered(c, order)
}

// --- Пакеты ---

func artifactByFilename(a, b *model.ArtifactRecord) int { return strings.Compare(a.Filename, b.Filename) }

func artifactByRepo(a, b *model.ArtifactRecord) int { return strings.Compare(a.Repo, b.Repo) }

func artifactByArch(a, b *model.ArtifactRecord) int { return strings.Compare(a.Arch, b.Arch) }

func artifactByID(a, b *model.ArtifactRecord) int { return strings.Compare(a.ID, b.ID) }

func artifactBySize(a, b *model.ArtifactRecord) int { return cmp.Compare(a.Length, b.Length) }

func artifactByDate(a, b *model.ArtifactRecord) int { return a.UploadDate.Compare(b.UploadDate) }

func artifactByVersion(a, b *model.ArtifactRecord) int { return rpmver.Compare(a.Version, b.Version) }

// artifactByName — имя файла, затем репозиторий, архитектура и идентификатор.
var artifactByName = thenBy[*model.ArtifactRecord](artifactByFilename, artifactByRepo, artifactByArch, artifactByID)

// artifactComparators — компараторы пакетов по полю сортировки.
var artifactComparators = map[model.SortField]Comparator[*model.ArtifactRecord]{
	model.SortByName:       artifactByName,
	model.SortByUploadDate: thenBy[*model.ArtifactRecord](artifactByDate, artifactByName),
	model.SortBySize:       thenBy[*model.ArtifactRecord](artifactBySize, artifactByName),
	model.SortByVersion:    thenBy[*model.ArtifactRecord](artifactByVersion, artifactByName),
}

// ArtifactComparator возвращает компаратор пакетов. Неизвестное поле — сортировка по имени.
func ArtifactComparator(sortBy model.SortField, order model.SortOrder) Comparator[*model.ArtifactRecord] {
	c, ok := artifactComparators[sortBy]
	if !ok {
		c = artifactByName
	}
	return Ordered(c, order)
}

// sortFolders сортирует папки на месте.
func sortFolders(items []*model.FolderInfo, sortBy model.SortField, order model.SortOrder) {
	slices.SortFunc(items, FolderComparator(sortBy, order))
}

// sortArtifacts сортирует пакеты на месте.
func sortArtifacts(items []*model.ArtifactRecord, sortBy model.SortField, order model.SortOrder) {
	slices.SortFunc(items, ArtifactComparator(sortBy, order))
}
