package device

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// setupTestDB creates an in-memory SQLite database with the device tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every pooled connection would get its own empty in-memory database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			transport TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '{}',
			capabilities TEXT NOT NULL DEFAULT '[]',
			last_seen TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE device_groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE group_members (
			group_id TEXT NOT NULL REFERENCES device_groups(id) ON DELETE CASCADE,
			device_id TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (group_id, device_id)
		) STRICT;
		CREATE TABLE device_state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// fakeDriver is a scriptable Driver.
type fakeDriver struct {
	mu sync.Mutex

	// connectFailures is how many Connect calls fail before one succeeds.
	// Negative means Connect always fails.
	connectFailures int
	sendErr         error
	sendDelay       time.Duration

	connects    int
	disconnects int
	sent        []Command
}

var errFakeLink = errors.New("fake: link down")

func (f *fakeDriver) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectFailures != 0 {
		if f.connectFailures > 0 {
			f.connectFailures--
		}
		return errFakeLink
	}
	return nil
}

func (f *fakeDriver) Disconnect() error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeDriver) Send(ctx context.Context, cmd Command) (Ack, error) {
	f.mu.Lock()
	delay := f.sendDelay
	err := f.sendErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		}
	}
	if err != nil {
		return Ack{}, err
	}

	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
	return Ack{DeviceID: cmd.DeviceID, EffectID: cmd.EffectID}, nil
}

func (f *fakeDriver) set(fn func(f *fakeDriver)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeDriver) counts() (connects, disconnects, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects, len(f.sent)
}

// fakeFactory hands out one fakeDriver per device id.
type fakeFactory struct {
	mu      sync.Mutex
	drivers map[string]*fakeDriver
	preset  map[string]*fakeDriver
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		drivers: make(map[string]*fakeDriver),
		preset:  make(map[string]*fakeDriver),
	}
}

func (ff *fakeFactory) build(d *Device) (Driver, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	drv, ok := ff.preset[d.ID]
	if !ok {
		drv = &fakeDriver{}
	}
	ff.drivers[d.ID] = drv
	return drv, nil
}

func (ff *fakeFactory) driver(id string) *fakeDriver {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.drivers[id]
}

func fastPolicy(budget int) ReconnectPolicy {
	return ReconnectPolicy{
		Budget:          budget,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		ConnectTimeout:  100 * time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, ff *fakeFactory, budget int) *Registry {
	t.Helper()
	r := NewRegistry(Options{Factory: ff.build, Reconnect: fastPolicy(budget)})
	t.Cleanup(func() { r.Close() })
	return r
}

func testDevice(id string, transport TransportKind, caps ...effect.Type) *Device {
	return &Device{
		ID:           id,
		Name:         "Device " + id,
		Capabilities: caps,
		Transport:    transport,
	}
}

func testEffect(id string, t effect.Type) *effect.Effect {
	return &effect.Effect{ID: id, Type: t, Params: effect.Params{"intensity": 50.0}, Priority: 5}
}

// stateRecorder collects state changes so tests can wait for a transition.
type stateRecorder struct {
	ch chan StateChange
}

func recordStates(r *Registry) *stateRecorder {
	rec := &stateRecorder{ch: make(chan StateChange, 256)}
	r.OnStateChange(func(c StateChange) {
		select {
		case rec.ch <- c:
		default:
		}
	})
	return rec
}

func (rec *stateRecorder) waitFor(t *testing.T, id string, from, to ConnectionState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-rec.ch:
			if c.DeviceID == id && c.From == from && c.To == to {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s: %s -> %s", id, from, to)
		}
	}
}
