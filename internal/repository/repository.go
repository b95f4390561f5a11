// Package repository owns Account persistence (§3 "Owned by Account
// Repository; the core holds a read-mostly snapshot"): creation on first
// credential arrival, quota updates, and operator deletion.
package repository

import (
	"context"
	"errors"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// ErrNotFound is returned when an account id has no stored record.
var ErrNotFound = errors.New("repository: account not found")

// AccountRepository is the persistence boundary for Account records. The
// core only ever holds read-mostly snapshots fetched through this
// interface; it never mutates an Account directly.
type AccountRepository interface {
	// List returns every known account, including proxy-disabled ones (the
	// selector filters those out, not the repository).
	List(ctx context.Context) ([]*model.Account, error)
	Get(ctx context.Context, id string) (*model.Account, error)
	// Upsert creates or replaces an account record, e.g. on first credential
	// arrival or an operator edit.
	Upsert(ctx context.Context, acc *model.Account) error
	// UpdateQuota applies an async quota refresh for one model family.
	UpdateQuota(ctx context.Context, accountID, family string, q model.Quota) error
	// Delete removes an account record (operator action).
	Delete(ctx context.Context, id string) error
	// SetProxyDisabled flips the selector-visible disable flag.
	SetProxyDisabled(ctx context.Context, id string, disabled bool) error
}
