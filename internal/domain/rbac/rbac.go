// Пакет rbac — идентичность, от имени которой выполняются операции,
// и проверка полномочий.
// Фоновые задачи получают неизменяемый системный принципал через context,
// без опоры на глобальное состояние.
package rbac

import (
	"context"
	"errors"
	"slices"
)

// Полномочия.
const (
	// AuthorityAdmin — привилегированные операции (очистка репозитория).
	AuthorityAdmin = "admin"
	// AuthorityRepoWrite — изменение содержимого и свойств репозиториев.
	AuthorityRepoWrite = "repo:write"
)

// SystemPrincipalName — имя системного принципала планировщика.
const SystemPrincipalName = "yum-scheduler"

// ErrForbidden — у принципала нет требуемого полномочия.
var ErrForbidden = errors.New("недостаточно полномочий")

// Principal — неизменяемая идентичность с набором полномочий.
type Principal struct {
	name        string
	authorities []string
}

// NewPrincipal создаёт принципала. Полномочия копируются.
func NewPrincipal(name string, authorities ...string) Principal {
	return Principal{name: name, authorities: slices.Clone(authorities)}
}

// SystemPrincipal возвращает фиксированного принципала фоновых задач.
func SystemPrincipal() Principal {
	return NewPrincipal(SystemPrincipalName, AuthorityAdmin, AuthorityRepoWrite)
}

// Name возвращает имя принципала.
func (p Principal) Name() string {
	return p.name
}

// Authorities возвращает копию набора полномочий.
func (p Principal) Authorities() []string {
	return slices.Clone(p.authorities)
}

// HasAuthority проверяет наличие полномочия.
func (p Principal) HasAuthority(authority string) bool {
	return slices.Contains(p.authorities, authority)
}

type principalKey struct{}

// WithPrincipal возвращает context с принципалом.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext извлекает принципала из context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireAuthority возвращает ErrForbidden, если в context нет принципала
// с указанным полномочием.
func RequireAuthority(ctx context.Context, authority string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok || !p.HasAuthority(authority) {
		return ErrForbidden
	}
	return nil
}
