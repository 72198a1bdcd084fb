package model

import "time"

// FolderInfo — агрегированное представление репозитория или архитектуры
// внутри репозитория. Не сохраняется в БД.
type FolderInfo struct {
	Name string
	// Size — суммарный размер активных файлов
	Size int64
	// LastModified — максимальная дата загрузки среди файлов
	LastModified time.Time
	// Tags — теги репозитория (пустой срез, если записи о репозитории нет)
	Tags []string
}

// SameFolder сравнивает папки только по имени.
func (f *FolderInfo) SameFolder(other *FolderInfo) bool {
	return other != nil && f.Name == other.Name
}

// Container — ответ со списком элементов и меткой пути.
type Container[T any] struct {
	Path  string
	Items []T
}

// SortField — поле сортировки списков каталога.
type SortField string

// Поля сортировки.
const (
	SortByName       SortField = "name"
	SortByUploadDate SortField = "uploadDate"
	SortBySize       SortField = "size"
	SortByVersion    SortField = "version"
)

// SortOrder — направление сортировки.
type SortOrder string

// Направления сортировки.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)
