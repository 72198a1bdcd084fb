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

// repoEntryColumns — список столбцов repo_entries для SELECT-запросов.
const repoEntryColumns = `name, type, max_keep_rpms, max_days_rpms, tags, last_modified,
	modification_seq, generated_seq, revision, last_generated_at, created_at, updated_at`

// RepoEntryFilter — фильтр поиска записей о репозиториях.
type RepoEntryFilter struct {
	// Types — допустимые типы (пусто — любые)
	Types []model.RepoType
	// NamePrefix — префикс имени (пусто — любое имя)
	NamePrefix string
	// Tag — тег, который должен быть у репозитория (пусто — без фильтра)
	Tag string
	// Newer, Older — границы last_modified включительно (нулевое время — без границы)
	Newer time.Time
	Older time.Time
}

// RepoEntryRepository — интерфейс доступа к таблице repo_entries.
type RepoEntryRepository interface {
	// Create создаёт запись о репозитории. ErrConflict, если имя занято.
	Create(ctx context.Context, e *model.RepoEntry) error
	// GetByName возвращает запись по имени или ErrNotFound.
	GetByName(ctx context.Context, name string) (*model.RepoEntry, error)
	// ListByTypes возвращает записи указанных типов, упорядоченные по имени.
	ListByTypes(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error)
	// Find возвращает записи по фильтру, упорядоченные по имени.
	Find(ctx context.Context, f RepoEntryFilter) ([]*model.RepoEntry, error)
	// UpdateType меняет тип репозитория.
	UpdateType(ctx context.Context, name string, t model.RepoType) error
	// SetMaxKeepRpms меняет ограничение по количеству версий.
	SetMaxKeepRpms(ctx context.Context, name string, n int) error
	// SetMaxDaysRpms меняет ограничение по возрасту.
	SetMaxDaysRpms(ctx context.Context, name string, days int) error
	// SetTags заменяет набор тегов.
	SetTags(ctx context.Context, name string, tags []string) error
	// Touch фиксирует изменение содержимого: last_modified = at, репозиторий становится dirty.
	Touch(ctx context.Context, name string, at time.Time) error
	// MarkGenerated фиксирует успешную генерацию индекса, покрывающую изменения до seq.
	MarkGenerated(ctx context.Context, name string, seq, revision int64, at time.Time) error
	// Delete помечает все пакеты репозитория удалёнными и удаляет запись.
	Delete(ctx context.Context, name string) error
}

// repoEntryRepo — реализация RepoEntryRepository через pgx.
type repoEntryRepo struct {
	db DBTX
}

// NewRepoEntryRepository создаёт репозиторий записей о репозиториях.
func NewRepoEntryRepository(db DBTX) RepoEntryRepository {
	return &repoEntryRepo{db: db}
}

func (r *repoEntryRepo) Create(ctx context.Context, e *model.RepoEntry) error {
	query := `
		INSERT INTO repo_entries (name, type, max_keep_rpms, max_days_rpms, tags, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING modification_seq, generated_seq, revision, created_at, updated_at`

	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}

	err := r.db.QueryRow(ctx, query,
		e.Name, string(e.Type), e.MaxKeepRpms, e.MaxDaysRpms, tags, e.LastModified,
	).Scan(&e.ModificationSeq, &e.GeneratedSeq, &e.Revision, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: репозиторий %s", ErrConflict, e.Name)
		}
		return fmt.Errorf("ошибка создания репозитория: %w", err)
	}
	e.Tags = tags
	return nil
}

func (r *repoEntryRepo) GetByName(ctx context.Context, name string) (*model.RepoEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM repo_entries WHERE name = $1`, repoEntryColumns)

	e, err := scanRepoEntry(r.db.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения репозитория: %w", err)
	}
	return e, nil
}

func (r *repoEntryRepo) ListByTypes(ctx context.Context, types ...model.RepoType) ([]*model.RepoEntry, error) {
	return r.Find(ctx, RepoEntryFilter{Types: types})
}

func (r *repoEntryRepo) Find(ctx context.Context, f RepoEntryFilter) ([]*model.RepoEntry, error) {
	where, args := buildRepoEntryWhere(f)
	query := fmt.Sprintf(`SELECT %s FROM repo_entries %s ORDER BY name`, repoEntryColumns, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска репозиториев: %w", err)
	}
	defer rows.Close()

	var result []*model.RepoEntry
	for rows.Next() {
		e, err := scanRepoEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования репозитория: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

func (r *repoEntryRepo) UpdateType(ctx context.Context, name string, t model.RepoType) error {
	return r.execOne(ctx, `
		UPDATE repo_entries
		SET type = $2, modification_seq = modification_seq + 1
		WHERE name = $1`, name, string(t))
}

func (r *repoEntryRepo) SetMaxKeepRpms(ctx context.Context, name string, n int) error {
	return r.execOne(ctx, `UPDATE repo_entries SET max_keep_rpms = $2 WHERE name = $1`, name, n)
}

func (r *repoEntryRepo) SetMaxDaysRpms(ctx context.Context, name string, days int) error {
	return r.execOne(ctx, `UPDATE repo_entries SET max_days_rpms = $2 WHERE name = $1`, name, days)
}

func (r *repoEntryRepo) SetTags(ctx context.Context, name string, tags []string) error {
	if tags == nil {
		tags = []string{}
	}
	return r.execOne(ctx, `UPDATE repo_entries SET tags = $2 WHERE name = $1`, name, tags)
}

func (r *repoEntryRepo) Touch(ctx context.Context, name string, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE repo_entries
		SET last_modified = $2, modification_seq = modification_seq + 1
		WHERE name = $1`, name, at)
}

// MarkGenerated не откатывает generated_seq назад: при гонке двух генераций
// остаётся максимальное покрытое значение.
func (r *repoEntryRepo) MarkGenerated(ctx context.Context, name string, seq, revision int64, at time.Time) error {
	return r.execOne(ctx, `
		UPDATE repo_entries
		SET generated_seq = GREATEST(generated_seq, $2),
			revision = GREATEST(revision, $3),
			last_generated_at = $4
		WHERE name = $1`, name, seq, revision, at)
}

func (r *repoEntryRepo) Delete(ctx context.Context, name string) error {
	query := `
		WITH removed AS (
			UPDATE artifacts SET deleted = true, deleted_at = now()
			WHERE repo = $1 AND NOT deleted
		)
		DELETE FROM repo_entries WHERE name = $1`

	return r.execOne(ctx, query, name)
}

// execOne выполняет UPDATE/DELETE одной записи, ErrNotFound если запись не найдена.
func (r *repoEntryRepo) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка обновления репозитория: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRepoEntry сканирует строку в RepoEntry.
func scanRepoEntry(row pgx.Row) (*model.RepoEntry, error) {
	e := &model.RepoEntry{}
	var typ string
	err := row.Scan(
		&e.Name, &typ, &e.MaxKeepRpms, &e.MaxDaysRpms, &e.Tags, &e.LastModified,
		&e.ModificationSeq, &e.GeneratedSeq, &e.Revision, &e.LastGeneratedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if e.Type, err = model.ParseRepoType(typ); err != nil {
		return nil, err
	}
	return e, nil
}

// buildRepoEntryWhere строит WHERE-условие для поиска записей о репозиториях.
func buildRepoEntryWhere(f RepoEntryFilter) (whereClause string, args []any) {
	var conditions []string
	argNum := 1

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argNum))
		args = append(args, types)
		argNum++
	}

	if f.NamePrefix != "" {
		conditions = append(conditions, fmt.Sprintf(`name LIKE $%d ESCAPE '\'`, argNum))
		args = append(args, escapeLike(f.NamePrefix)+"%")
		argNum++
	}

	if f.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(tags)", argNum))
		args = append(args, f.Tag)
		argNum++
	}

	if !f.Newer.IsZero() {
		conditions = append(conditions, fmt.Sprintf("last_modified >= $%d", argNum))
		args = append(args, f.Newer)
		argNum++
	}

	if !f.Older.IsZero() {
		conditions = append(conditions, fmt.Sprintf("last_modified <= $%d", argNum))
		args = append(args, f.Older)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
