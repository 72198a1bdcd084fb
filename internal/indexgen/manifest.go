// Пакет indexgen — публикация индекса репозитория.
//
// ManifestGenerator пишет <dir>/<repo>/repodata/manifest.json со списком
// активных пакетов и токеном ревизии. Файл заменяется атомарно: читатель
// видит либо предыдущий индекс, либо новый целиком.
package indexgen

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
	"github.com/bigkaa/goartstore/yum-module/internal/domain/rpmver"
)

const (
	// RepodataDir — поддиректория индекса внутри репозитория.
	RepodataDir = "repodata"
	// ManifestFile — имя файла индекса.
	ManifestFile = "manifest.json"
)

// ArtifactLister — источник активных пакетов репозитория.
type ArtifactLister interface {
	ListActive(ctx context.Context, repo string) ([]*model.ArtifactRecord, error)
}

// Manifest — содержимое manifest.json.
type Manifest struct {
	Repo        string    `json:"repo"`
	Revision    int64     `json:"revision"`
	GeneratedAt time.Time `json:"generatedAt"`
	Packages    []Package `json:"packages"`
}

// Package — пакет в индексе.
type Package struct {
	Name     string `json:"name"`
	Arch     string `json:"arch"`
	Epoch    int    `json:"epoch"`
	Version  string `json:"version"`
	Release  string `json:"release"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	// Location — путь файла относительно корня репозитория
	Location string `json:"location"`
}

// ManifestGenerator генерирует manifest.json репозиториев.
type ManifestGenerator struct {
	dir       string
	artifacts ArtifactLister
	now       func() time.Time
	logger    *slog.Logger
}

// NewManifestGenerator создаёт генератор индексов в корневой директории dir.
func NewManifestGenerator(dir string, artifacts ArtifactLister, logger *slog.Logger) (*ManifestGenerator, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию индексов %s: %w", dir, err)
	}
	return &ManifestGenerator{
		dir:       dir,
		artifacts: artifacts,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "indexgen")),
	}, nil
}

// Path возвращает путь manifest.json репозитория.
func (g *ManifestGenerator) Path(repo string) string {
	return filepath.Join(g.dir, repo, RepodataDir, ManifestFile)
}

// Generate собирает и публикует индекс репозитория с указанной ревизией.
func (g *ManifestGenerator) Generate(ctx context.Context, repo string, revision int64) error {
	if repo == "" || strings.ContainsAny(repo, `/\`) || repo == "." || repo == ".." {
		return fmt.Errorf("недопустимое имя репозитория %q", repo)
	}

	records, err := g.artifacts.ListActive(ctx, repo)
	if err != nil {
		return fmt.Errorf("ошибка чтения пакетов %s: %w", repo, err)
	}

	m := Manifest{
		Repo:        repo,
		Revision:    revision,
		GeneratedAt: g.now().UTC(),
		Packages:    buildPackages(records),
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации индекса %s: %w", repo, err)
	}

	if err := writeAtomic(g.Path(repo), data); err != nil {
		return err
	}

	g.logger.Debug("Индекс опубликован",
		slog.String("repo", repo),
		slog.Int64("revision", revision),
		slog.Int("packages", len(m.Packages)),
	)
	return nil
}

// buildPackages упорядочивает пакеты по имени, архитектуре и версии.
func buildPackages(records []*model.ArtifactRecord) []Package {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b *model.ArtifactRecord) int {
		return cmp.Or(
			strings.Compare(a.PackageName, b.PackageName),
			strings.Compare(a.Arch, b.Arch),
			rpmver.Compare(a.Version, b.Version),
			strings.Compare(a.Filename, b.Filename),
		)
	})

	pkgs := make([]Package, 0, len(sorted))
	for _, r := range sorted {
		pkgs = append(pkgs, Package{
			Name:     r.PackageName,
			Arch:     r.Arch,
			Epoch:    r.Version.Epoch,
			Version:  r.Version.Ver,
			Release:  r.Version.Rel,
			Filename: r.Filename,
			Size:     r.Length,
			Checksum: r.Checksum,
			Location: path.Join(r.Arch, r.Filename),
		})
	}
	return pkgs
}

// writeAtomic: temp файл → запись → fsync → rename.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи индекса: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}
