package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/yum-module/internal/domain/model"
)

// artifactColumns — список столбцов таблицы artifacts для SELECT-запросов.
const artifactColumns = `id, filename, repo, arch, package_name, epoch, ver, rel,
	build_time, length, upload_date, deleted, deleted_at, content_ref, checksum`

// ArtifactFilter — параметры поиска пакетов по всем репозиториям.
type ArtifactFilter struct {
	// FilenamePattern — регулярное выражение PostgreSQL по имени файла (без якорей)
	FilenamePattern string
	// Repo — регулярное выражение по имени репозитория, совпадение целиком (пусто — любой)
	Repo string
	// Arch — регулярное выражение по архитектуре, совпадение целиком (пусто — любая)
	Arch string
}

// ArtifactRepository — интерфейс доступа к метаданным пакетов.
// Все операции чтения возвращают только активные (не удалённые) записи.
type ArtifactRepository interface {
	// Create регистрирует пакет. ErrConflict, если активный файл с тем же
	// (repo, arch, filename) уже есть.
	Create(ctx context.Context, a *model.ArtifactRecord) error
	// GetActive возвращает активный пакет по (repo, arch, filename) или ErrNotFound.
	GetActive(ctx context.Context, repo, arch, filename string) (*model.ArtifactRecord, error)
	// ListActive возвращает все активные пакеты репозитория.
	ListActive(ctx context.Context, repo string) ([]*model.ArtifactRecord, error)
	// ListByRepoArch возвращает активные пакеты репозитория для одной архитектуры.
	ListByRepoArch(ctx context.Context, repo, arch string, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error)
	// Find ищет активные пакеты по фильтру.
	Find(ctx context.Context, f ArtifactFilter, sortBy model.SortField, order model.SortOrder) ([]*model.ArtifactRecord, error)
	// AggregateByRepo суммирует размер и последнюю дату загрузки по репозиториям.
	AggregateByRepo(ctx context.Context) ([]*model.FolderInfo, error)
	// AggregateByArch суммирует размер и последнюю дату загрузки по архитектурам репозитория.
	AggregateByArch(ctx context.Context, repo string) ([]*model.FolderInfo, error)
	// MarkDeleted помечает записи удалёнными. Возвращает количество изменённых записей.
	MarkDeleted(ctx context.Context, ids []string, at time.Time) (int, error)
	// MoveToRepo переносит активную запись в другой репозиторий.
	MoveToRepo(ctx context.Context, id, targetRepo string) error
}

// artifactRepo — реализация ArtifactRepository через pgx.
type artifactRepo struct {
	db DBTX
}

// NewArtifactRepository создаёт репозиторий метаданных пакетов.
func NewArtifactRepository(db DBTX) ArtifactRepository {
	return &artifactRepo{db: db}
}

func (r *artifactRepo) Create(ctx context.Context, a *model.ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (id, filename, repo, arch, package_name, epoch, ver, rel,
			build_time, length, upload_date, content_ref, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.Filename, a.Repo, a.Arch, a.PackageName, a.Version.Epoch, a.Version.Ver, a.Version.Rel,
		a.BuildTime, a.Length, a.UploadDate, a.ContentRef, a.Checksum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s/%s", ErrConflict, a.Repo, a.Arch, a.Filename)
		}
		return fmt.Errorf("ошибка регистрации пакета: %w", err)
	}
	return nil
}

func (r *artifactRepo) GetActive(ctx context.Context, repo, arch, filename string) (*model.ArtifactRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM artifacts
		WHERE repo = $1 AND arch = $2 AND filename = $3 AND NOT deleted`, artifactColumns)

	a, err := scanArtifact(r.db.QueryRow(ctx, query, repo, arch, filename))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пакета: %w", err)
	}
	return a, nil
}

func (r *artifactRepo) ListActive(ctx context.Context, repo string) ([]*model.ArtifactRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM artifacts
		WHERE repo = $1 AND NOT deleted
		ORDER BY package_name, arch, filename`, artifactColumns)

	return r.queryArtifacts(ctx, query, repo)
}

func (r *artifactRepo) ListByRepoArch(
	ctx context.Context, repo, arch string, sortBy model.SortField, order model.SortOrder,
) ([]*model.ArtifactRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM artifacts
		WHERE repo = $1 AND arch = $2 AND NOT deleted
		%s`, artifactColumns, buildArtifactOrderBy(sortBy, order))

	return r.queryArtifacts(ctx, query, repo, arch)
}

func (r *artifactRepo) Find(
	ctx context.Context, f ArtifactFilter, sortBy model.SortField, order model.SortOrder,
) ([]*model.ArtifactRecord, error) {
	where, args := buildArtifactWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM artifacts %s %s`,
		artifactColumns, where, buildArtifactOrderBy(sortBy, order))

	records, err := r.queryArtifacts(ctx, query, args...)
	if err != nil && isInvalidRegex(err) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return records, err
}

func (r *artifactRepo) AggregateByRepo(ctx context.Context) ([]*model.FolderInfo, error) {
	query := `
		SELECT repo, COALESCE(SUM(length), 0), MAX(upload_date)
		FROM artifacts
		WHERE NOT deleted
		GROUP BY repo`

	return r.queryFolders(ctx, query)
}

func (r *artifactRepo) AggregateByArch(ctx context.Context, repo string) ([]*model.FolderInfo, error) {
	query := `
		SELECT arch, COALESCE(SUM(length), 0), MAX(upload_date)
		FROM artifacts
		WHERE repo = $1 AND NOT deleted
		GROUP BY arch`

	return r.queryFolders(ctx, query, repo)
}

func (r *artifactRepo) MarkDeleted(ctx context.Context, ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `
		UPDATE artifacts
		SET deleted = true, deleted_at = $2
		WHERE id = ANY($1) AND NOT deleted`

	tag, err := r.db.Exec(ctx, query, ids, at)
	if err != nil {
		return 0, fmt.Errorf("ошибка пометки пакетов как удалённых: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *artifactRepo) MoveToRepo(ctx context.Context, id, targetRepo string) error {
	query := `UPDATE artifacts SET repo = $2 WHERE id = $1 AND NOT deleted`

	tag, err := r.db.Exec(ctx, query, id, targetRepo)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пакет уже есть в репозитории %s", ErrConflict, targetRepo)
		}
		return fmt.Errorf("ошибка переноса пакета: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// queryArtifacts выполняет запрос и сканирует список пакетов.
func (r *artifactRepo) queryArtifacts(ctx context.Context, query string, args ...any) ([]*model.ArtifactRecord, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения пакетов: %w", err)
	}
	defer rows.Close()

	var result []*model.ArtifactRecord
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования пакета: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// queryFolders выполняет агрегирующий запрос (name, size, last_modified).
func (r *artifactRepo) queryFolders(ctx context.Context, query string, args ...any) ([]*model.FolderInfo, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации пакетов: %w", err)
	}
	defer rows.Close()

	var result []*model.FolderInfo
	for rows.Next() {
		f := &model.FolderInfo{}
		if err := rows.Scan(&f.Name, &f.Size, &f.LastModified); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// scanArtifact сканирует строку в ArtifactRecord.
func scanArtifact(row pgx.Row) (*model.ArtifactRecord, error) {
	a := &model.ArtifactRecord{}
	err := row.Scan(
		&a.ID, &a.Filename, &a.Repo, &a.Arch, &a.PackageName,
		&a.Version.Epoch, &a.Version.Ver, &a.Version.Rel,
		&a.BuildTime, &a.Length, &a.UploadDate, &a.Deleted, &a.DeletedAt, &a.ContentRef, &a.Checksum,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildArtifactWhere строит WHERE-условие поиска пакетов.
// Регулярное выражение по имени файла применяется без якорей,
// выражения repo и arch должны совпасть со значением целиком.
func buildArtifactWhere(f ArtifactFilter) (whereClause string, args []any) {
	conditions := []string{"NOT deleted"}
	argNum := 1

	if f.FilenamePattern != "" {
		conditions = append(conditions, fmt.Sprintf("filename ~ $%d", argNum))
		args = append(args, f.FilenamePattern)
		argNum++
	}

	if f.Repo != "" {
		conditions = append(conditions, fmt.Sprintf("repo ~ ('^(' || $%d || ')$')", argNum))
		args = append(args, f.Repo)
		argNum++
	}

	if f.Arch != "" {
		conditions = append(conditions, fmt.Sprintf("arch ~ ('^(' || $%d || ')$')", argNum))
		args = append(args, f.Arch)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildArtifactOrderBy строит ORDER BY по whitelist полей сортировки.
func buildArtifactOrderBy(sortBy model.SortField, order model.SortOrder) string {
	direction := "ASC"
	if order == model.SortDesc {
		direction = "DESC"
	}

	var columns []string
	switch sortBy {
	case model.SortByUploadDate:
		columns = []string{"upload_date"}
	case model.SortBySize:
		columns = []string{"length"}
	case model.SortByVersion:
		columns = []string{"package_name", "epoch", "ver", "rel"}
	default:
		columns = []string{"filename"}
	}

	for i, c := range columns {
		columns[i] = c + " " + direction
	}
	return "ORDER BY " + strings.Join(columns, ", ")
}
