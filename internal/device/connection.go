package device

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy bounds the reconnect state machine.
type ReconnectPolicy struct {
	// Budget is the number of reconnect attempts before the device is left
	// in Error. Zero disables automatic reconnects.
	Budget int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64

	// ConnectTimeout bounds each Connect call.
	ConnectTimeout time.Duration
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Budget:          5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		ConnectTimeout:  2 * time.Second,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = def.ConnectTimeout
	}
	return p
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// connect drives Disconnected -> Connecting -> Connected, or into Error
// followed by the reconnect loop.
func (r *Registry) connect(ctx context.Context, id string) {
	r.mu.RLock()
	en, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	r.transition(id, en, StateConnecting, "")

	cctx, cancel := context.WithTimeout(ctx, r.policy.ConnectTimeout)
	err := en.driver.Connect(cctx)
	cancel()

	if err == nil || en.dev.IsMock() {
		if err != nil {
			r.logger.Warn("mock device connect failed, treating as connected", "id", id, "error", err)
		}
		r.markConnected(id, en)
		return
	}

	r.logger.Warn("device connect failed", "id", id, "error", err)
	r.transition(id, en, StateError, err.Error())
	r.startReconnect(id, en)
}

// markFailed moves a Connected device to Error after a failed send.
func (r *Registry) markFailed(id string, en *entry, sendErr error) {
	r.mu.Lock()
	cur, ok := r.devices[id]
	if !ok || cur != en || en.dev.State != StateConnected {
		r.mu.Unlock()
		return
	}
	change := r.setStateLocked(en, StateError, sendErr.Error())
	r.mu.Unlock()

	r.notify(change)
	r.logger.Warn("device send failed", "id", id, "error", sendErr)
	r.startReconnect(id, en)
}

// startReconnect launches the reconnect loop unless one is already running.
func (r *Registry) startReconnect(id string, en *entry) {
	r.mu.Lock()
	if r.closed || en.reconnecting {
		r.mu.Unlock()
		return
	}
	if cur, ok := r.devices[id]; !ok || cur != en {
		r.mu.Unlock()
		return
	}
	if r.policy.Budget <= 0 {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.ctx)
	en.reconnecting = true
	en.cancel = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.reconnectLoop(ctx, id, en)
}

// reconnectLoop drives Error -> Reconnecting -> Connected, or back to Error
// once the budget is spent.
func (r *Registry) reconnectLoop(ctx context.Context, id string, en *entry) {
	defer r.wg.Done()

	r.transition(id, en, StateReconnecting, "")

	b := r.policy.newBackOff()
	var lastErr error
	for attempt := 1; attempt <= r.policy.Budget; attempt++ {
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.finishReconnect(id, en, "", "")
			return
		case <-timer.C:
		}

		_ = en.driver.Disconnect() //nolint:errcheck // the link is being rebuilt

		cctx, cancel := context.WithTimeout(ctx, r.policy.ConnectTimeout)
		lastErr = en.driver.Connect(cctx)
		cancel()

		if lastErr == nil {
			r.logger.Info("device reconnected", "id", id, "attempt", attempt)
			r.finishReconnect(id, en, StateConnected, "")
			return
		}
		r.logger.Debug("device reconnect attempt failed", "id", id, "attempt", attempt, "error", lastErr)
	}

	msg := "reconnect budget exhausted"
	if lastErr != nil {
		msg += ": " + lastErr.Error()
	}
	r.logger.Warn("device left in error state", "id", id, "budget", r.policy.Budget, "error", lastErr)
	r.finishReconnect(id, en, StateError, msg)
}

// finishReconnect clears the reconnecting flag and applies the final state
// in one critical section. An empty state leaves the device untouched.
func (r *Registry) finishReconnect(id string, en *entry, state ConnectionState, errMsg string) {
	r.mu.Lock()
	en.reconnecting = false
	en.cancel = nil
	var change *StateChange
	if cur, ok := r.devices[id]; ok && cur == en && state != "" {
		change = r.setStateLocked(en, state, errMsg)
		if state == StateConnected {
			seen := r.now().UTC()
			en.dev.LastSeen = &seen
		}
	}
	r.mu.Unlock()

	r.notify(change)
	if state == StateConnected {
		r.persistLastSeen(id)
	}
}

func (r *Registry) markConnected(id string, en *entry) {
	r.mu.Lock()
	var change *StateChange
	if cur, ok := r.devices[id]; ok && cur == en {
		change = r.setStateLocked(en, StateConnected, "")
		seen := r.now().UTC()
		en.dev.LastSeen = &seen
	}
	r.mu.Unlock()

	r.notify(change)
	r.persistLastSeen(id)
}

func (r *Registry) transition(id string, en *entry, state ConnectionState, errMsg string) {
	r.mu.Lock()
	var change *StateChange
	if cur, ok := r.devices[id]; ok && cur == en {
		change = r.setStateLocked(en, state, errMsg)
	}
	r.mu.Unlock()
	r.notify(change)
}

// setStateLocked applies a state change. r.mu must be held for writing.
func (r *Registry) setStateLocked(en *entry, state ConnectionState, errMsg string) *StateChange {
	from := en.dev.State
	if from == state && en.dev.LastError == errMsg {
		return nil
	}
	en.dev.State = state
	en.dev.LastError = errMsg
	return &StateChange{
		DeviceID: en.dev.ID,
		From:     from,
		To:       state,
		Error:    errMsg,
		At:       r.now().UTC(),
	}
}

func (r *Registry) notify(change *StateChange) {
	if change == nil {
		return
	}
	r.logger.Debug("device state changed",
		"id", change.DeviceID,
		"from", change.From,
		"to", change.To,
	)

	r.listenersMu.RLock()
	listeners := r.listeners
	r.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(*change)
	}
}

func (r *Registry) persistLastSeen(id string) {
	if r.repo == nil {
		return
	}
	r.mu.RLock()
	en, ok := r.devices[id]
	var seen *time.Time
	if ok && en.dev.LastSeen != nil {
		t := *en.dev.LastSeen
		seen = &t
	}
	r.mu.RUnlock()
	if seen == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, time.Second)
	defer cancel()
	if err := r.repo.TouchLastSeen(ctx, id, *seen); err != nil {
		r.logger.Debug("persisting last_seen failed", "id", id, "error", err)
	}
}
