package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GroupRepository persists groups and their ordered member lists.
type GroupRepository interface {
	// Create returns ErrGroupExists when the id is taken.
	Create(ctx context.Context, group *Group) error
	GetByID(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context) ([]Group, error)
	Delete(ctx context.Context, id string) error
	// SetMembers replaces the member list, keeping the given order.
	SetMembers(ctx context.Context, groupID string, deviceIDs []string) error
	GetMemberDeviceIDs(ctx context.Context, groupID string) ([]string, error)
}

// SQLiteGroupRepository stores groups in device_groups and their members
// in group_members, ordered by sort_order.
type SQLiteGroupRepository struct {
	db *sql.DB
}

// NewSQLiteGroupRepository expects a migrated database.
func NewSQLiteGroupRepository(db *sql.DB) *SQLiteGroupRepository {
	return &SQLiteGroupRepository{db: db}
}

const selectGroup = `SELECT id, name, created_at, updated_at FROM device_groups`

func scanGroup(s scanner) (Group, error) {
	var (
		g                Group
		created, updated string
	)
	if err := s.Scan(&g.ID, &g.Name, &created, &updated); err != nil {
		return Group{}, err
	}
	var err error
	if g.CreatedAt, err = parseTime("created_at", created); err != nil {
		return Group{}, err
	}
	g.UpdatedAt, err = parseTime("updated_at", updated)
	return g, err
}

func (r *SQLiteGroupRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Create inserts the group and its members atomically.
func (r *SQLiteGroupRepository) Create(ctx context.Context, g *Group) error {
	if g == nil {
		return ErrInvalidGroup
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO device_groups (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			g.ID, g.Name, formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
		if isDuplicateKey(err) {
			return ErrGroupExists
		}
		if err != nil {
			return fmt.Errorf("inserting group %s: %w", g.ID, err)
		}
		return writeMembers(ctx, tx, g.ID, g.Members)
	})
}

// GetByID returns ErrGroupNotFound for an unknown id.
func (r *SQLiteGroupRepository) GetByID(ctx context.Context, id string) (*Group, error) {
	g, err := scanGroup(r.db.QueryRowContext(ctx, selectGroup+` WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrGroupNotFound
	case err != nil:
		return nil, fmt.Errorf("loading group %s: %w", id, err)
	}
	if g.Members, err = r.GetMemberDeviceIDs(ctx, id); err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns every group, ordered by id, with members.
func (r *SQLiteGroupRepository) List(ctx context.Context) ([]Group, error) {
	groups, err := r.listHeaders(ctx)
	if err != nil {
		return nil, err
	}
	// Members are read only after the cursor closes: the pool holds a
	// single connection, so a nested query would block forever.
	for i := range groups {
		if groups[i].Members, err = r.GetMemberDeviceIDs(ctx, groups[i].ID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (r *SQLiteGroupRepository) listHeaders(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx, selectGroup+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("listing groups: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Delete removes the group; its member rows cascade.
func (r *SQLiteGroupRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM device_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting group %s: %w", id, err)
	}
	return affectedOne(res, ErrGroupNotFound)
}

// SetMembers swaps the whole member list in one transaction and bumps
// updated_at.
func (r *SQLiteGroupRepository) SetMembers(ctx context.Context, groupID string, deviceIDs []string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE device_groups SET updated_at = ? WHERE id = ?`,
			formatTime(time.Now()), groupID)
		if err != nil {
			return fmt.Errorf("touching group %s: %w", groupID, err)
		}
		if err := affectedOne(res, ErrGroupNotFound); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
			return fmt.Errorf("clearing members of %s: %w", groupID, err)
		}
		return writeMembers(ctx, tx, groupID, deviceIDs)
	})
}

// GetMemberDeviceIDs returns member ids in their stored order, never nil.
func (r *SQLiteGroupRepository) GetMemberDeviceIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id FROM group_members WHERE group_id = ? ORDER BY sort_order, device_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("reading members of %s: %w", groupID, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("reading members of %s: %w", groupID, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func writeMembers(ctx context.Context, tx *sql.Tx, groupID string, deviceIDs []string) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO group_members (group_id, device_id, sort_order) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing member insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range deviceIDs {
		if _, err := stmt.ExecContext(ctx, groupID, id, i); err != nil {
			return fmt.Errorf("adding %s to %s: %w", id, groupID, err)
		}
	}
	return nil
}
