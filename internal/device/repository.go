package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository persists device descriptors. Connection state is never
// stored; a loaded device always starts disconnected.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Device, error)
	List(ctx context.Context) ([]Device, error)
	// Create returns ErrDeviceExists when the id is taken.
	Create(ctx context.Context, device *Device) error
	// Update, Delete and TouchLastSeen return ErrDeviceNotFound for an
	// unknown id.
	Update(ctx context.Context, device *Device) error
	Delete(ctx context.Context, id string) error
	TouchLastSeen(ctx context.Context, id string, seen time.Time) error
}

// SQLiteRepository stores devices in the devices table. Address and
// capabilities are JSON text columns.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository expects a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `SELECT id, name, transport, address, capabilities, last_seen, created_at, updated_at FROM devices`

// deviceRow is the column encoding of a Device.
type deviceRow struct {
	id, name, transport   string
	address, capabilities string
	lastSeen              sql.NullString
	created, updated      string
}

func encodeDevice(d *Device) (deviceRow, error) {
	addr := d.Address
	if addr == nil {
		addr = Address{}
	}
	a, err := json.Marshal(addr)
	if err != nil {
		return deviceRow{}, fmt.Errorf("encoding address: %w", err)
	}
	c, err := json.Marshal(d.Capabilities)
	if err != nil {
		return deviceRow{}, fmt.Errorf("encoding capabilities: %w", err)
	}
	return deviceRow{
		id:           d.ID,
		name:         d.Name,
		transport:    string(d.Transport),
		address:      string(a),
		capabilities: string(c),
		lastSeen:     nullTime(d.LastSeen),
		created:      formatTime(d.CreatedAt),
		updated:      formatTime(d.UpdatedAt),
	}, nil
}

func (row deviceRow) decode() (*Device, error) {
	d := &Device{
		ID:        row.id,
		Name:      row.name,
		Transport: TransportKind(row.transport),
		State:     StateDisconnected,
	}
	var err error
	if d.CreatedAt, err = parseTime("created_at", row.created); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime("updated_at", row.updated); err != nil {
		return nil, err
	}
	if row.lastSeen.Valid {
		if t, perr := parseTime("last_seen", row.lastSeen.String); perr == nil {
			d.LastSeen = &t
		}
	}
	if err := json.Unmarshal([]byte(row.address), &d.Address); err != nil {
		return nil, fmt.Errorf("decoding address: %w", err)
	}
	if err := json.Unmarshal([]byte(row.capabilities), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	return d, nil
}

func scanDevice(s scanner) (*Device, error) {
	var row deviceRow
	if err := s.Scan(&row.id, &row.name, &row.transport, &row.address, &row.capabilities,
		&row.lastSeen, &row.created, &row.updated); err != nil {
		return nil, err
	}
	return row.decode()
}

// GetByID returns ErrDeviceNotFound for an unknown id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrDeviceNotFound
	case err != nil:
		return nil, fmt.Errorf("loading device %s: %w", id, err)
	}
	return d, nil
}

// List returns every device ordered by id.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Create stamps CreatedAt (unless set) and UpdatedAt, then inserts.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	row, err := encodeDevice(d)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, transport, address, capabilities, last_seen, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.name, row.transport, row.address, row.capabilities, row.lastSeen, row.created, row.updated)
	if isDuplicateKey(err) {
		return ErrDeviceExists
	}
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", d.ID, err)
	}
	return nil
}

// Update rewrites the descriptor. CreatedAt and LastSeen are left alone.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()
	row, err := encodeDevice(d)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE devices SET name = ?, transport = ?, address = ?, capabilities = ?, updated_at = ? WHERE id = ?`,
		row.name, row.transport, row.address, row.capabilities, row.updated, row.id)
	if err != nil {
		return fmt.Errorf("updating device %s: %w", d.ID, err)
	}
	return affectedOne(res, ErrDeviceNotFound)
}

// Delete removes the device row. Group memberships naming it are kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return affectedOne(res, ErrDeviceNotFound)
}

// TouchLastSeen records the last successful contact.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, seen time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE devices SET last_seen = ? WHERE id = ?`, formatTime(seen), id)
	if err != nil {
		return fmt.Errorf("touching device %s: %w", id, err)
	}
	return affectedOne(res, ErrDeviceNotFound)
}
