// Пакет repository — слой доступа к данным PostgreSQL.
// Хранит записи о репозиториях (repo_entries) и метаданные пакетов (artifacts).
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrInvalidPattern — PostgreSQL отверг регулярное выражение поиска.
	ErrInvalidPattern = errors.New("некорректное регулярное выражение")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx: одни и те же репозитории
// работают и на пуле, и внутри транзакции.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Stores — набор репозиториев поверх одного DBTX.
type Stores struct {
	Entries   RepoEntryRepository
	Artifacts ArtifactRepository
}

// NewStores создаёт репозитории поверх пула или транзакции.
func NewStores(db DBTX) Stores {
	return Stores{
		Entries:   NewRepoEntryRepository(db),
		Artifacts: NewArtifactRepository(db),
	}
}

// TxRunner выполняет функции в транзакции PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт исполнитель транзакций.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn в транзакции. Ошибка fn откатывает транзакцию,
// иначе транзакция фиксируется.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit откат ничего не делает

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// InTx выполняет fn с репозиториями, привязанными к одной транзакции.
func (r *TxRunner) InTx(ctx context.Context, fn func(s Stores) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStores(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidRegex проверяет, отверг ли PostgreSQL регулярное выражение.
func isInvalidRegex(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "2201B" // invalid_regular_expression
	}
	return false
}

// escapeLike экранирует спецсимволы LIKE-шаблона.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
