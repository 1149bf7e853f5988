// Package fleet runs many per-user orchestrators side by side. The
// teacher is single-user/single-process; this is new composition logic
// needed because one instance of this service serves many independent
// users at once. It owns no trading logic of its own — it is a
// concurrent map plus a lifecycle guard per entry, the same shape as
// the teacher's GameStateStore generalized from games to users.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mercer-quant/sporttrader/internal/orchestrator"
	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

// slot pairs one user's orchestrator with a lifecycle mutex. The lifecycle
// mutex serializes Start/Stop/Remove for that one user so a racing pair of
// requests (say, two rapid "restart bot" calls) can't interleave into a
// half-started, half-stopped orchestrator; it is independent of the
// Fleet's own map mutex, which only ever protects the map itself.
type slot struct {
	lifecycle sync.Mutex
	orch      *orchestrator.Orchestrator
}

// Fleet is the concurrent user_id -> *orchestrator.Orchestrator map. One
// process holds exactly one Fleet.
type Fleet struct {
	mu    sync.RWMutex
	users map[string]*slot
}

// New returns an empty Fleet.
func New() *Fleet {
	return &Fleet{users: make(map[string]*slot)}
}

// Get returns the running orchestrator for a user, if one exists.
func (f *Fleet) Get(userID string) (*orchestrator.Orchestrator, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.users[userID]
	if !ok {
		return nil, false
	}
	return s.orch, true
}

// lockedSlot returns the slot for userID, creating an empty one under the
// map lock if absent. The returned slot's lifecycle mutex is NOT held; the
// caller must lock it before mutating s.orch.
func (f *Fleet) lockedSlot(userID string) *slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.users[userID]
	if !ok {
		s = &slot{}
		f.users[userID] = s
	}
	return s
}

// Start constructs (if needed) and starts a user's orchestrator, recovering
// its open positions first via Initialize. If an orchestrator is already
// running for this user, Start is a no-op and returns the existing instance
// so callers can poll/restart idempotently.
func (f *Fleet) Start(ctx context.Context, userID string, deps orchestrator.Deps, selected []orchestrator.SelectedGame) (*orchestrator.Orchestrator, error) {
	deps.UserID = userID
	s := f.lockedSlot(userID)

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.orch != nil && s.orch.State() != orchestrator.StateStopped {
		return s.orch, nil
	}

	orch := orchestrator.New(deps)
	if err := orch.Initialize(ctx, selected); err != nil {
		return nil, fmt.Errorf("fleet: initialize user %s: %w", userID, err)
	}
	if err := orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("fleet: start user %s: %w", userID, err)
	}

	s.orch = orch
	telemetry.Infow("[FLEET] user started", "user_id", userID)
	return orch, nil
}

// Stop stops a user's orchestrator and removes it from the fleet, releasing
// its exchange client and other per-user resources to the caller. Stop on a
// user with no running orchestrator is a no-op.
func (f *Fleet) Stop(ctx context.Context, userID string) error {
	f.mu.RLock()
	s, ok := f.users[userID]
	f.mu.RUnlock()
	if !ok {
		return nil
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.orch == nil {
		return nil
	}
	if err := s.orch.Stop(ctx); err != nil {
		return fmt.Errorf("fleet: stop user %s: %w", userID, err)
	}
	s.orch = nil

	f.mu.Lock()
	delete(f.users, userID)
	f.mu.Unlock()

	telemetry.Infow("[FLEET] user stopped", "user_id", userID)
	return nil
}

// UserIDs returns a snapshot of every user currently tracked by the fleet,
// running or not.
func (f *Fleet) UserIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.users))
	for id := range f.users {
		out = append(out, id)
	}
	return out
}

// Count returns the number of users currently tracked by the fleet.
func (f *Fleet) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.users)
}

// StopAll stops every running orchestrator, collecting but not stopping
// early on individual failures so one stuck user can't block the rest of a
// process-wide shutdown. Callers should pass a context with a deadline
// (spec.md's bounded shutdown budget); a per-user Stop beyond that deadline
// returns its own error, which StopAll surfaces alongside the others.
func (f *Fleet) StopAll(ctx context.Context) error {
	var errs []error
	for _, userID := range f.UserIDs() {
		if err := f.Stop(ctx, userID); err != nil {
			telemetry.Errorw("[FLEET] stop failed during shutdown", "user_id", userID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
