package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playsem-core/internal/effect"
)

func TestRegistry_RegisterConnects(t *testing.T) {
	ff := newFakeFactory()
	r := newTestRegistry(t, ff, 3)
	rec := recordStates(r)

	if err := r.Register(context.Background(), testDevice("chair-1", TransportMock, effect.TypeVibration)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec.waitFor(t, "chair-1", StateDisconnected, StateConnecting)
	rec.waitFor(t, "chair-1", StateConnecting, StateConnected)

	d, err := r.Lookup("chair-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.State != StateConnected {
		t.Errorf("State = %s, want connected", d.State)
	}
	if d.LastSeen == nil {
		t.Error("LastSeen not set after connect")
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	ff := newFakeFactory()
	r := newTestRegistry(t, ff, 3)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("d1", TransportMock, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name    string
		dev     *Device
		wantErr error
	}{
		{"duplicate", testDevice("d1", TransportMock, effect.TypeLight), ErrDeviceExists},
		{"no capabilities", testDevice("d2", TransportMock), ErrInvalidCapability},
		{"unknown capability", testDevice("d3", TransportMock, effect.Type("taste")), ErrInvalidCapability},
		{"unknown transport", testDevice("d4", TransportKind("carrier-pigeon"), effect.TypeLight), ErrInvalidTransport},
		{"serial without port", testDevice("d5", TransportSerial, effect.TypeLight), ErrInvalidAddress},
		{"bad id", testDevice("bad id", TransportMock, effect.TypeLight), ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(ctx, tt.dev)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if r.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", r.DeviceCount())
	}
}

func TestRegistry_RegisterNoFactory(t *testing.T) {
	r := NewRegistry(Options{})
	defer r.Close()

	err := r.Register(context.Background(), testDevice("d1", TransportMock, effect.TypeLight))
	if !errors.Is(err, ErrNoDriver) {
		t.Errorf("Register() error = %v, want ErrNoDriver", err)
	}
}

func TestRegistry_LookupReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, newFakeFactory(), 3)
	if err := r.Register(context.Background(), testDevice("d1", TransportMock, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	d, _ := r.Lookup("d1")
	d.Capabilities[0] = effect.TypeScent
	d.State = StateError

	again, _ := r.Lookup("d1")
	if again.Capabilities[0] != effect.TypeLight || again.State != StateConnected {
		t.Error("mutating a Lookup result changed the registry")
	}

	if _, err := r.Lookup("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_FindByCapability(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["down"] = &fakeDriver{connectFailures: -1}
	r := newTestRegistry(t, ff, 0)
	ctx := context.Background()

	for _, d := range []*Device{
		testDevice("b-light", TransportMock, effect.TypeLight),
		testDevice("a-light", TransportMock, effect.TypeLight, effect.TypeVibration),
		testDevice("fan", TransportMock, effect.TypeWind),
		testDevice("down", TransportOther, effect.TypeLight),
	} {
		if err := r.Register(ctx, d); err != nil {
			t.Fatalf("Register(%s) error = %v", d.ID, err)
		}
	}

	got := r.FindByCapability(effect.TypeLight)
	if len(got) != 2 || got[0].ID != "a-light" || got[1].ID != "b-light" {
		t.Fatalf("FindByCapability(light) = %v, want [a-light b-light]", ids(got))
	}

	if got := r.FindByCapability(effect.TypeScent); len(got) != 0 {
		t.Errorf("FindByCapability(scent) = %v, want none", ids(got))
	}
}

func TestRegistry_Send(t *testing.T) {
	ff := newFakeFactory()
	r := newTestRegistry(t, ff, 3)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("d1", TransportOther, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	ack, rtt, err := r.Send(ctx, "d1", testEffect("e1", effect.TypeLight))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if ack.EffectID != "e1" || ack.DeviceID != "d1" {
		t.Errorf("ack = %+v, want e1 on d1", ack)
	}
	if rtt < 0 {
		t.Errorf("rtt = %v, want >= 0", rtt)
	}

	drv := ff.driver("d1")
	drv.mu.Lock()
	cmd := drv.sent[0]
	drv.mu.Unlock()
	if cmd.Type != effect.TypeLight || cmd.Params["intensity"] != 50.0 {
		t.Errorf("command = %+v, want light with intensity", cmd)
	}

	if _, _, err := r.Send(ctx, "ghost", testEffect("e2", effect.TypeLight)); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Send(ghost) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_FailedSendEntersErrorUntilReconnect(t *testing.T) {
	ff := newFakeFactory()
	drv := &fakeDriver{}
	ff.preset["d1"] = drv
	r := newTestRegistry(t, ff, 2)
	rec := recordStates(r)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("d1", TransportOther, effect.TypeVibration)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	drv.set(func(f *fakeDriver) {
		f.sendErr = errFakeLink
		f.connectFailures = -1
	})

	if _, _, err := r.Send(ctx, "d1", testEffect("e1", effect.TypeVibration)); !errors.Is(err, errFakeLink) {
		t.Fatalf("Send() error = %v, want link error", err)
	}

	rec.waitFor(t, "d1", StateConnected, StateError)
	rec.waitFor(t, "d1", StateError, StateReconnecting)
	rec.waitFor(t, "d1", StateReconnecting, StateError)

	if got := r.FindByCapability(effect.TypeVibration); len(got) != 0 {
		t.Errorf("FindByCapability() = %v, want device in Error excluded", ids(got))
	}
	if _, _, err := r.Send(ctx, "d1", testEffect("e2", effect.TypeVibration)); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("Send() in Error = %v, want ErrDeviceUnavailable", err)
	}

	connects, _, _ := drv.counts()
	// One initial connect plus the full budget.
	if connects != 3 {
		t.Errorf("connect calls = %d, want 3", connects)
	}

	drv.set(func(f *fakeDriver) {
		f.connectFailures = 0
		f.sendErr = nil
	})
	if err := r.Reconnect("d1"); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	rec.waitFor(t, "d1", StateReconnecting, StateConnected)

	if got := r.FindByCapability(effect.TypeVibration); len(got) != 1 {
		t.Errorf("FindByCapability() after reconnect = %v, want d1", ids(got))
	}
}

func TestRegistry_RejectedCommandKeepsConnected(t *testing.T) {
	ff := newFakeFactory()
	drv := &fakeDriver{}
	ff.preset["d1"] = drv
	r := newTestRegistry(t, ff, 2)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("d1", TransportOther, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	drv.set(func(f *fakeDriver) {
		f.sendErr = fmt.Errorf("%w: intensity unsupported", ErrCommandRejected)
	})
	if _, _, err := r.Send(ctx, "d1", testEffect("e1", effect.TypeLight)); !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Send() error = %v, want ErrCommandRejected", err)
	}

	d, _ := r.Lookup("d1")
	if d.State != StateConnected {
		t.Errorf("State after rejection = %s, want connected", d.State)
	}

	drv.set(func(f *fakeDriver) { f.sendErr = nil })
	if _, _, err := r.Send(ctx, "d1", testEffect("e2", effect.TypeLight)); err != nil {
		t.Errorf("Send() after rejection error = %v, want delivered", err)
	}
	if connects, _, _ := drv.counts(); connects != 1 {
		t.Errorf("connect calls = %d, want 1 (no reconnect)", connects)
	}
}

func TestRegistry_MockNeverEntersError(t *testing.T) {
	ff := newFakeFactory()
	drv := &fakeDriver{sendErr: errFakeLink}
	ff.preset["sim"] = drv
	r := newTestRegistry(t, ff, 2)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("sim", TransportMock, effect.TypeWind)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := r.Send(ctx, "sim", testEffect("e", effect.TypeWind)); err == nil {
			t.Fatal("Send() error = nil, want injected failure")
		}
	}

	d, _ := r.Lookup("sim")
	if d.State != StateConnected {
		t.Errorf("mock State = %s, want connected", d.State)
	}
}

func TestRegistry_MockConnectFailureStillConnected(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["sim"] = &fakeDriver{connectFailures: -1}
	r := newTestRegistry(t, ff, 2)

	if err := r.Register(context.Background(), testDevice("sim", TransportMock, effect.TypeWind)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d, _ := r.Lookup("sim")
	if d.State != StateConnected {
		t.Errorf("mock State = %s, want connected", d.State)
	}
}

func TestRegistry_InitialConnectFailureRecovers(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["d1"] = &fakeDriver{connectFailures: 2}
	r := newTestRegistry(t, ff, 5)
	rec := recordStates(r)

	if err := r.Register(context.Background(), testDevice("d1", TransportOther, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec.waitFor(t, "d1", StateConnecting, StateError)
	rec.waitFor(t, "d1", StateError, StateReconnecting)
	rec.waitFor(t, "d1", StateReconnecting, StateConnected)
}

func TestRegistry_ZeroBudgetStaysInError(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["d1"] = &fakeDriver{connectFailures: -1}
	r := newTestRegistry(t, ff, 0)

	if err := r.Register(context.Background(), testDevice("d1", TransportOther, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	d, _ := r.Lookup("d1")
	if d.State != StateError {
		t.Errorf("State = %s, want error", d.State)
	}
	if d.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestRegistry_ConcurrentReadersDuringConnect(t *testing.T) {
	ff := newFakeFactory()
	r := newTestRegistry(t, ff, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(ctx, testDevice(string(rune('a'+i)), TransportMock, effect.TypeLight))
		}(i)
		go func() {
			defer wg.Done()
			_ = r.FindByCapability(effect.TypeLight)
			_ = r.List()
		}()
	}
	wg.Wait()

	if got := len(r.FindByCapability(effect.TypeLight)); got != 20 {
		t.Errorf("FindByCapability() returned %d devices, want 20", got)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	ff := newFakeFactory()
	r := newTestRegistry(t, ff, 3)
	ctx := context.Background()

	if err := r.Register(ctx, testDevice("d1", TransportMock, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Deregister(ctx, "d1"); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if _, err := r.Lookup("d1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Lookup after Deregister error = %v, want ErrDeviceNotFound", err)
	}
	if _, disconnects, _ := ff.driver("d1").counts(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
	if err := r.Deregister(ctx, "d1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Deregister() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_Groups(t *testing.T) {
	r := newTestRegistry(t, newFakeFactory(), 3)
	ctx := context.Background()

	if err := r.CreateGroup(ctx, &Group{ID: "front", Name: "Front row", Members: []string{"s1", "s2"}}); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	if err := r.CreateGroup(ctx, &Group{ID: "front"}); !errors.Is(err, ErrGroupExists) {
		t.Errorf("duplicate CreateGroup() error = %v, want ErrGroupExists", err)
	}
	if err := r.CreateGroup(ctx, &Group{ID: "dup", Members: []string{"a", "a"}}); !errors.Is(err, ErrInvalidGroup) {
		t.Errorf("CreateGroup(duplicate members) error = %v, want ErrInvalidGroup", err)
	}

	members, err := r.GroupMembers("front")
	if err != nil {
		t.Fatalf("GroupMembers() error = %v", err)
	}
	if len(members) != 2 || members[0] != "s1" {
		t.Errorf("GroupMembers() = %v, want [s1 s2]", members)
	}

	if err := r.SetGroupMembers(ctx, "front", []string{"s3"}); err != nil {
		t.Fatalf("SetGroupMembers() error = %v", err)
	}
	members, _ = r.GroupMembers("front")
	if len(members) != 1 || members[0] != "s3" {
		t.Errorf("GroupMembers() after set = %v, want [s3]", members)
	}

	if _, err := r.GroupMembers("nope"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GroupMembers(nope) error = %v, want ErrGroupNotFound", err)
	}
	if err := r.SetGroupMembers(ctx, "nope", nil); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("SetGroupMembers(nope) error = %v, want ErrGroupNotFound", err)
	}

	if got := r.ListGroups(); len(got) != 1 {
		t.Errorf("ListGroups() = %d groups, want 1", len(got))
	}
	if err := r.DeleteGroup(ctx, "front"); err != nil {
		t.Fatalf("DeleteGroup() error = %v", err)
	}
	if _, err := r.GetGroup("front"); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("GetGroup after delete error = %v, want ErrGroupNotFound", err)
	}
}

func TestRegistry_PersistenceRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewSQLiteRepository(db)
	groups := NewSQLiteGroupRepository(db)

	first := NewRegistry(Options{Repository: repo, Groups: groups, Factory: newFakeFactory().build, Reconnect: fastPolicy(1)})
	if err := first.Register(ctx, &Device{
		ID:           "chair-1",
		Name:         "Chair",
		Capabilities: []effect.Type{effect.TypeVibration},
		Transport:    TransportSerial,
		Address:      Address{"port": "/dev/ttyUSB0"},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := first.CreateGroup(ctx, &Group{ID: "seats", Members: []string{"chair-1", "chair-2"}}); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	first.Close()

	second := NewRegistry(Options{Repository: repo, Groups: groups, Factory: newFakeFactory().build, Reconnect: fastPolicy(1)})
	defer second.Close()
	if err := second.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	d, err := second.Lookup("chair-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if d.State != StateConnected {
		t.Errorf("State after refresh = %s, want connected", d.State)
	}
	if d.Address["port"] != "/dev/ttyUSB0" || !d.HasCapability(effect.TypeVibration) {
		t.Errorf("device = %+v, want persisted address and capability", d)
	}

	members, err := second.GroupMembers("seats")
	if err != nil {
		t.Fatalf("GroupMembers() error = %v", err)
	}
	if len(members) != 2 {
		t.Errorf("GroupMembers() = %v, want 2 members", members)
	}
}

func TestRegistry_GetStats(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["bad"] = &fakeDriver{connectFailures: -1}
	r := newTestRegistry(t, ff, 0)
	ctx := context.Background()

	_ = r.Register(ctx, testDevice("ok", TransportMock, effect.TypeLight))
	_ = r.Register(ctx, testDevice("bad", TransportOther, effect.TypeLight))
	_ = r.CreateGroup(ctx, &Group{ID: "g"})

	stats := r.GetStats()
	if stats.TotalDevices != 2 || stats.TotalGroups != 1 {
		t.Errorf("stats totals = %d devices, %d groups, want 2 and 1", stats.TotalDevices, stats.TotalGroups)
	}
	if stats.ByState[StateConnected] != 1 || stats.ByState[StateError] != 1 {
		t.Errorf("ByState = %v, want one connected and one error", stats.ByState)
	}
	if stats.ByTransport[TransportMock] != 1 {
		t.Errorf("ByTransport = %v, want one mock", stats.ByTransport)
	}
}

func TestRegistry_CloseStopsReconnects(t *testing.T) {
	ff := newFakeFactory()
	ff.preset["d1"] = &fakeDriver{connectFailures: -1}
	r := NewRegistry(Options{Factory: ff.build, Reconnect: ReconnectPolicy{
		Budget:          1000,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     10 * time.Millisecond,
		Multiplier:      1,
	}})

	if err := r.Register(context.Background(), testDevice("d1", TransportOther, effect.TypeLight)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not stop the reconnect loop")
	}

	if err := r.Register(context.Background(), testDevice("d2", TransportMock, effect.TypeLight)); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Register after Close error = %v, want ErrRegistryClosed", err)
	}
}

func ids(devices []Device) []string {
	out := make([]string, len(devices))
	for i, d := range devices {
		out[i] = d.ID
	}
	return out
}
