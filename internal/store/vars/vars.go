// Package vars persists the cache's vars(name, value) table: session
// identity, the scsn marker and the schema version.
package vars

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/aperturetechnology/MEGAchat/internal/dbx"
)

// Well-known variable names.
const (
	KeySchemaVersion = "schema_version"
	KeyMyHandle      = "my_handle"
	KeyMyEmail       = "my_email"
	KeyClientIDSeed  = "clientid_seed"
	KeyScsn          = "scsn"
)

// ErrNotSet is returned when a requested variable has no row.
var ErrNotSet = errors.New("var not set")

// Repo reads and writes the vars table through a DBTX.
type Repo struct {
	db dbx.DBTX
}

func NewRepo(db dbx.DBTX) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Get(ctx context.Context, name string) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM vars WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("vars[%s]: %w", name, ErrNotSet)
	}
	if err != nil {
		return "", fmt.Errorf("get vars[%s]: %w", name, err)
	}
	return v, nil
}

func (r *Repo) GetUint64(ctx context.Context, name string) (uint64, error) {
	s, err := r.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse vars[%s]: %w", name, err)
	}
	return v, nil
}

func (r *Repo) Set(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vars(name, value) VALUES (?, ?)`, name, value)
	if err != nil {
		return fmt.Errorf("set vars[%s]: %w", name, err)
	}
	return nil
}

func (r *Repo) SetUint64(ctx context.Context, name string, value uint64) error {
	return r.Set(ctx, name, strconv.FormatUint(value, 10))
}
