// Package contacts persists the contact list rows of the cache.
package contacts

import (
	"context"
	"fmt"

	"github.com/aperturetechnology/MEGAchat/internal/dbx"
	"github.com/aperturetechnology/MEGAchat/remote"
)

// Row is one persisted contact.
type Row struct {
	UserID     remote.Handle
	Email      string
	Visibility remote.Visibility
	Since      int64
}

// Repo reads and writes the contacts table through a DBTX.
type Repo struct {
	db dbx.DBTX
}

func NewRepo(db dbx.DBTX) *Repo {
	return &Repo{db: db}
}

// Upsert inserts or replaces the full contact row.
func (r *Repo) Upsert(ctx context.Context, c Row) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO contacts(userid, email, visibility, since) VALUES (?, ?, ?, ?)`,
		int64(c.UserID), c.Email, int(c.Visibility), c.Since)
	if err != nil {
		return fmt.Errorf("upsert contact %d: %w", c.UserID, err)
	}
	return nil
}

// UpdateVisibility rewrites only the visibility column.
func (r *Repo) UpdateVisibility(ctx context.Context, userID remote.Handle, v remote.Visibility) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET visibility = ? WHERE userid = ?`, int(v), int64(userID))
	if err != nil {
		return fmt.Errorf("update contact visibility %d: %w", userID, err)
	}
	return nil
}

// Delete removes the contact row.
func (r *Repo) Delete(ctx context.Context, userID remote.Handle) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE userid = ?`, int64(userID))
	if err != nil {
		return fmt.Errorf("delete contact %d: %w", userID, err)
	}
	return nil
}

// GetAll lists every cached contact.
func (r *Repo) GetAll(ctx context.Context) ([]Row, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT userid, email, visibility, since FROM contacts`)
	if err != nil {
		return nil, fmt.Errorf("select contacts: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var (
			id  int64
			c   Row
			vis int
		)
		if err := rows.Scan(&id, &c.Email, &vis, &c.Since); err != nil {
			return nil, err
		}
		c.UserID = remote.Handle(id)
		c.Visibility = remote.Visibility(vis)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
