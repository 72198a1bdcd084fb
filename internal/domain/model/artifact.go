package model

import (
	"strconv"
	"time"
)

// PackageVersion — версия RPM-пакета (epoch:version-release).
type PackageVersion struct {
	// Epoch — эпоха; отсутствующая эпоха равна 0
	Epoch int
	Ver   string
	Rel   string
}

// String возвращает версию в формате [epoch:]ver-rel.
func (v PackageVersion) String() string {
	s := v.Ver
	if v.Rel != "" {
		s += "-" + v.Rel
	}
	if v.Epoch != 0 {
		s = strconv.Itoa(v.Epoch) + ":" + s
	}
	return s
}

// ArtifactRecord — метаданные одного загруженного файла пакета (таблица artifacts).
type ArtifactRecord struct {
	ID          string
	Filename    string
	Repo        string
	Arch        string
	PackageName string
	Version     PackageVersion
	// BuildTime — время сборки пакета, секунды с начала эпохи (основа для политики по возрасту)
	BuildTime int64
	// Length — размер файла в байтах
	Length     int64
	UploadDate time.Time
	// Deleted — флаг мягкого удаления; после установки запись не меняется
	Deleted   bool
	DeletedAt *time.Time
	// ContentRef — ключ содержимого в хранилище пакетов
	ContentRef string
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// PackageMetadata — уже разобранный заголовок RPM-пакета, передаваемый при загрузке.
type PackageMetadata struct {
	Filename  string
	Name      string
	Arch      string
	Version   PackageVersion
	BuildTime int64
}

// BlobInfo — результат сохранения содержимого в хранилище пакетов.
type BlobInfo struct {
	Key      string
	Size     int64
	Checksum string
}
