// Package store keeps a user-edited value consistent with the value its owner
// holds. Every local edit lands on a linear undo/redo history; a debounce
// timer decides when the current value is committed back to the owner, and
// changes made by the owner are folded back in as authoritative resets.
//
// Two reactions drive commits. The first watches the current value and arms
// the debounce timer whenever it differs from the debounced snapshot. When the
// timer fires the snapshot takes the current value, and the second reaction
// publishes any snapshot that differs from the owner's value. ForceUpdate
// bypasses both and commits immediately.
package store

import (
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kobzarvs/qfield/internal/logger"
)

// DefaultDelay is the debounce delay used when WithDelay is not given.
const DefaultDelay = 500 * time.Millisecond

// Hooks are the optional callbacks of a Store.
type Hooks[T any] struct {
	// LocalChange is called with every value accepted by SetCurrentValue.
	LocalChange func(T)
	// DebouncedCommit is called after a debounced value was committed.
	DebouncedCommit func(T)
	// Equal compares values. Defaults to reflect.DeepEqual.
	Equal func(a, b T) bool
}

// Option configures a Store.
type Option func(*settings)

type settings struct {
	delay time.Duration
	auto  bool
	limit int
	sched Scheduler
}

// WithDelay sets the debounce delay.
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		s.delay = d
		s.auto = true
	}
}

// WithoutAutoCommit disables debounced commits; only ForceUpdate commits.
func WithoutAutoCommit() Option {
	return func(s *settings) {
		s.auto = false
	}
}

// WithHistoryLimit caps the history length. Zero means unbounded.
func WithHistoryLimit(n int) Option {
	return func(s *settings) {
		if n < 0 {
			n = 0
		}
		s.limit = n
	}
}

// WithScheduler sets the scheduler used to arm debounce timers.
func WithScheduler(sched Scheduler) Option {
	return func(s *settings) {
		if sched != nil {
			s.sched = sched
		}
	}
}

// token is the liveness flag of one armed timer.
type token struct {
	cancelled bool
	// settled is set once the snapshot took the value but before publish.
	settled bool
}

// Store is a debounced, versioned value. It is safe for concurrent use;
// callbacks run with the internal lock released.
type Store[T any] struct {
	mu        sync.Mutex
	id        string
	history   []T
	cursor    int
	debounced T
	committed T
	live      *token
	timer     Timer
	closed    bool

	settings
	equal  func(a, b T) bool
	commit func(T)
	hooks  Hooks[T]
}

// New creates a store seeded with initial. commit receives every value pushed
// back to the owner.
func New[T any](initial T, commit func(T), hooks Hooks[T], opts ...Option) *Store[T] {
	cfg := settings{delay: DefaultDelay, auto: true, sched: TimeScheduler{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	equal := hooks.Equal
	if equal == nil {
		equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	if commit == nil {
		commit = func(T) {}
	}
	s := &Store[T]{
		id:        uuid.New().String(),
		history:   []T{initial},
		debounced: initial,
		committed: initial,
		settings:  cfg,
		equal:     equal,
		commit:    commit,
		hooks:     hooks,
	}
	logger.Debug("store created", "store", s.id, "delay", cfg.delay, "auto", cfg.auto)
	return s
}

// ID identifies the store in logs.
func (s *Store[T]) ID() string {
	return s.id
}

// CurrentValue returns the value at the history cursor.
func (s *Store[T]) CurrentValue() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[s.cursor]
}

// History returns a copy of the history.
func (s *Store[T]) History() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Cursor returns the index of the current value in History.
func (s *Store[T]) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Store[T]) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

func (s *Store[T]) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.history)-1
}

// Pending reports whether a debounce timer is armed.
func (s *Store[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live != nil
}

// Synced reports whether the owner holds the current value.
func (s *Store[T]) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equal(s.history[s.cursor], s.committed)
}

// SetCurrentValue records v as the new current value. Values equal to the
// current one are ignored. When the cursor is not at the tail the redo branch
// is discarded.
func (s *Store[T]) SetCurrentValue(v T) {
	if !s.set(v) {
		return
	}
	if s.hooks.LocalChange != nil {
		s.hooks.LocalChange(v)
	}
}

func (s *Store[T]) set(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.equal(v, s.history[s.cursor]) {
		return false
	}
	s.pushLocked(v)
	s.scheduleLocked()
	return true
}

func (s *Store[T]) pushLocked(v T) {
	// Full slice expression forces a copy so History snapshots never alias.
	s.history = append(s.history[:s.cursor+1:s.cursor+1], v)
	if s.limit > 0 && len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
	s.cursor = len(s.history) - 1
}

// Undo moves the cursor back by steps, clamping at the oldest entry.
// steps < 1 means one step.
func (s *Store[T]) Undo(steps int) {
	if steps < 1 {
		steps = 1
	}
	s.move(-steps)
}

// Redo moves the cursor forward by steps, clamping at the newest entry.
// steps < 1 means one step.
func (s *Store[T]) Redo(steps int) {
	if steps < 1 {
		steps = 1
	}
	s.move(steps)
}

func (s *Store[T]) move(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	next := min(max(s.cursor+delta, 0), len(s.history)-1)
	if next == s.cursor {
		return
	}
	s.cursor = next
	s.scheduleLocked()
}

// ForceUpdate cancels any pending debounce and commits the current value.
func (s *Store[T]) ForceUpdate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cancelLocked()
	v := s.history[s.cursor]
	s.debounced = v
	s.committed = v
	s.mu.Unlock()

	logger.Debug("store forced commit", "store", s.id)
	s.commit(v)
}

// Reconcile folds the owner's value back into the store. A value differing
// from the last known external value is an authoritative reset: the pending
// debounce is cancelled, the value is pushed onto the history and the
// debounced snapshot is resynced.
func (s *Store[T]) Reconcile(external T) {
	changed, ok := s.reconcile(external)
	if !ok {
		return
	}
	logger.Debug("store external reset", "store", s.id, "changed", changed)
	if changed && s.hooks.LocalChange != nil {
		s.hooks.LocalChange(external)
	}
}

func (s *Store[T]) reconcile(external T) (changed, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.equal(external, s.committed) {
		return false, false
	}
	s.cancelLocked()
	s.committed = external
	s.debounced = external
	if !s.equal(external, s.history[s.cursor]) {
		s.pushLocked(external)
		changed = true
	}
	return changed, true
}

// Close cancels any pending timer. Further mutations are ignored.
func (s *Store[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelLocked()
	logger.Debug("store closed", "store", s.id)
}

// scheduleLocked is the first reaction: the current value changed.
func (s *Store[T]) scheduleLocked() {
	s.cancelLocked()
	if !s.auto || s.equal(s.history[s.cursor], s.debounced) {
		return
	}
	tok := &token{}
	s.live = tok
	s.timer = s.sched.AfterFunc(s.delay, func() { s.fire(tok) })
}

func (s *Store[T]) cancelLocked() {
	if s.live != nil {
		s.live.cancelled = true
		if s.live.settled {
			// The snapshot was never published; the owner still holds committed.
			s.debounced = s.committed
		}
		s.live = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store[T]) fire(tok *token) {
	v, ok := s.settle(tok)
	if !ok {
		return
	}
	s.publish(tok, v)
}

// settle moves the current value into the debounced snapshot unless tok
// was cancelled after the timer was already queued. tok stays live until
// publish so edits and resets in between still cancel it.
func (s *Store[T]) settle(tok *token) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if tok.cancelled || s.closed {
		return zero, false
	}
	v := s.history[s.cursor]
	if s.equal(v, s.debounced) {
		s.releaseLocked(tok)
		return zero, false
	}
	s.debounced = v
	tok.settled = true
	return v, true
}

// publish is the second reaction: the debounced snapshot changed.
func (s *Store[T]) publish(tok *token, v T) {
	ok, local := s.claim(tok, v)
	if !ok {
		return
	}
	if local && s.hooks.LocalChange != nil {
		s.hooks.LocalChange(v)
	}
	logger.Debug("store debounced commit", "store", s.id)
	s.commit(v)
	if s.hooks.DebouncedCommit != nil {
		s.hooks.DebouncedCommit(v)
	}
}

// claim records v as the owner's value unless tok was cancelled since
// settle. local reports whether v had to be pushed as the current value.
func (s *Store[T]) claim(tok *token, v T) (ok, local bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.cancelled || s.closed {
		return false, false
	}
	s.releaseLocked(tok)
	if s.equal(v, s.committed) {
		return false, false
	}
	s.committed = v
	if !s.equal(v, s.history[s.cursor]) {
		s.pushLocked(v)
		s.scheduleLocked()
		local = true
	}
	return true, local
}

func (s *Store[T]) releaseLocked(tok *token) {
	if s.live == tok {
		s.live = nil
		s.timer = nil
	}
}
