package store

import (
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) all() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.values)
}

func newTestStore(initial string, delay time.Duration) (*Store[string], *ManualScheduler, *recorder[string]) {
	sched := &ManualScheduler{}
	commits := &recorder[string]{}
	s := New(initial, commits.add, Hooks[string]{}, WithDelay(delay), WithScheduler(sched))
	return s, sched, commits
}

func TestSetCurrentValueEqualIsNoop(t *testing.T) {
	s, sched, _ := newTestStore("a", 100*time.Millisecond)
	locals := 0
	s.hooks.LocalChange = func(string) { locals++ }

	s.SetCurrentValue("a")
	if got := s.History(); !slices.Equal(got, []string{"a"}) {
		t.Fatalf("history = %v, want [a]", got)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor = %d, want 0", s.Cursor())
	}
	if sched.Armed() != 0 {
		t.Fatalf("armed timers = %d, want 0", sched.Armed())
	}
	if locals != 0 {
		t.Fatalf("local changes = %d, want 0", locals)
	}

	s.SetCurrentValue("b")
	armed := sched.Armed()
	s.SetCurrentValue("b")
	if sched.Armed() != armed {
		t.Fatalf("equal value re-armed the timer")
	}
	if locals != 1 {
		t.Fatalf("local changes = %d, want 1", locals)
	}
}

func TestDeepEqualityForStructuredValues(t *testing.T) {
	type row struct {
		Name  string
		Cells []int
	}
	sched := &ManualScheduler{}
	s := New(row{Name: "r", Cells: []int{1, 2}}, nil, Hooks[row]{}, WithScheduler(sched))

	s.SetCurrentValue(row{Name: "r", Cells: []int{1, 2}})
	if len(s.History()) != 1 {
		t.Fatalf("history len = %d, want 1", len(s.History()))
	}
	s.SetCurrentValue(row{Name: "r", Cells: []int{1, 3}})
	if len(s.History()) != 2 {
		t.Fatalf("history len = %d, want 2", len(s.History()))
	}
}

func TestCustomEqual(t *testing.T) {
	sched := &ManualScheduler{}
	sameLen := func(a, b string) bool { return len(a) == len(b) }
	s := New("abc", nil, Hooks[string]{Equal: sameLen}, WithScheduler(sched))
	s.SetCurrentValue("xyz")
	if s.CurrentValue() != "abc" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "abc")
	}
}

func TestUndoRedoBounds(t *testing.T) {
	s, _, _ := newTestStore("a", time.Second)
	s.SetCurrentValue("b")
	s.SetCurrentValue("c")
	s.SetCurrentValue("d")

	s.Undo(100)
	if s.Cursor() != 0 {
		t.Fatalf("cursor after undo = %d, want 0", s.Cursor())
	}
	if s.CurrentValue() != "a" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "a")
	}
	s.Undo(1)
	if s.Cursor() != 0 {
		t.Fatalf("cursor after undo at bound = %d, want 0", s.Cursor())
	}

	s.Redo(100)
	if s.Cursor() != 3 {
		t.Fatalf("cursor after redo = %d, want 3", s.Cursor())
	}
	s.Redo(0)
	if s.Cursor() != 3 {
		t.Fatalf("cursor after redo at bound = %d, want 3", s.Cursor())
	}
	if got := s.History(); !slices.Equal(got, []string{"a", "b", "c", "d"}) {
		t.Fatalf("history = %v, want [a b c d]", got)
	}
}

func TestUndoDefaultStep(t *testing.T) {
	s, _, _ := newTestStore("a", time.Second)
	s.SetCurrentValue("b")
	s.SetCurrentValue("c")
	s.Undo(0)
	if s.CurrentValue() != "b" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "b")
	}
	if !s.CanUndo() || !s.CanRedo() {
		t.Fatalf("CanUndo/CanRedo = %v/%v, want true/true", s.CanUndo(), s.CanRedo())
	}
}

func TestTruncationOnBranch(t *testing.T) {
	s, _, _ := newTestStore("a", time.Second)
	s.SetCurrentValue("b")
	s.SetCurrentValue("c")
	snapshot := s.History()

	s.Undo(1)
	s.SetCurrentValue("d")
	if got := s.History(); !slices.Equal(got, []string{"a", "b", "d"}) {
		t.Fatalf("history = %v, want [a b d]", got)
	}
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}
	if !slices.Equal(snapshot, []string{"a", "b", "c"}) {
		t.Fatalf("earlier snapshot mutated: %v", snapshot)
	}
	if s.CanRedo() {
		t.Fatalf("CanRedo = true after branching")
	}
}

func TestHistoryLimit(t *testing.T) {
	sched := &ManualScheduler{}
	s := New(0, nil, Hooks[int]{}, WithScheduler(sched), WithHistoryLimit(3))
	for i := 1; i <= 5; i++ {
		s.SetCurrentValue(i)
	}
	if got := s.History(); !slices.Equal(got, []int{3, 4, 5}) {
		t.Fatalf("history = %v, want [3 4 5]", got)
	}
	if s.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", s.Cursor())
	}
}

func TestDebounceTiming(t *testing.T) {
	s, sched, commits := newTestStore("", 950*time.Millisecond)
	debounced := &recorder[string]{}
	s.hooks.DebouncedCommit = debounced.add

	s.SetCurrentValue("x")
	sched.Advance(949 * time.Millisecond)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits before delay = %v, want none", got)
	}
	if !s.Pending() {
		t.Fatalf("Pending = false before delay")
	}
	sched.Advance(time.Millisecond)
	if got := commits.all(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("commits = %v, want [x]", got)
	}
	if got := debounced.all(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("debounced commits = %v, want [x]", got)
	}
	sched.Advance(5 * time.Second)
	if got := commits.all(); len(got) != 1 {
		t.Fatalf("commits after settle = %v, want exactly one", got)
	}
	if s.Pending() {
		t.Fatalf("Pending = true after commit")
	}
}

func TestRapidEditsCommitOnce(t *testing.T) {
	s, sched, commits := newTestStore("", 300*time.Millisecond)
	s.SetCurrentValue("first")
	sched.Advance(200 * time.Millisecond)
	s.SetCurrentValue("second")
	sched.Advance(200 * time.Millisecond)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none yet", got)
	}
	sched.Advance(100 * time.Millisecond)
	if got := commits.all(); !slices.Equal(got, []string{"second"}) {
		t.Fatalf("commits = %v, want [second]", got)
	}
}

func TestUndoRearmsDebounce(t *testing.T) {
	s, sched, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("b")
	sched.Advance(100 * time.Millisecond)
	s.Undo(1)
	sched.Advance(100 * time.Millisecond)
	if got := commits.all(); !slices.Equal(got, []string{"b", "a"}) {
		t.Fatalf("commits = %v, want [b a]", got)
	}
}

func TestUndoBackToDebouncedCancels(t *testing.T) {
	s, sched, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("b")
	s.Undo(1)
	if s.Pending() {
		t.Fatalf("Pending = true after returning to the debounced value")
	}
	sched.Advance(time.Second)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none", got)
	}
}

func TestExternalResetWins(t *testing.T) {
	s, sched, commits := newTestStore("a", 500*time.Millisecond)
	locals := &recorder[string]{}
	s.hooks.LocalChange = locals.add

	s.SetCurrentValue("x")
	sched.Advance(200 * time.Millisecond)
	s.Reconcile("y")
	if s.CurrentValue() != "y" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "y")
	}
	if s.Pending() {
		t.Fatalf("Pending = true after external reset")
	}
	sched.Advance(time.Second)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none", got)
	}
	if got := s.History(); !slices.Equal(got, []string{"a", "x", "y"}) {
		t.Fatalf("history = %v, want [a x y]", got)
	}
	if got := locals.all(); !slices.Equal(got, []string{"x", "y"}) {
		t.Fatalf("local changes = %v, want [x y]", got)
	}
}

func TestReconcileUnchangedExternalKeepsPending(t *testing.T) {
	s, sched, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("b")
	s.Reconcile("a")
	if !s.Pending() {
		t.Fatalf("Pending = false, unchanged external value must not cancel")
	}
	sched.Advance(100 * time.Millisecond)
	if got := commits.all(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("commits = %v, want [b]", got)
	}
}

func TestReconcileAfterCommitIsNoop(t *testing.T) {
	sched := &ManualScheduler{}
	var s *Store[string]
	owner := "a"
	s = New(owner, func(v string) {
		owner = v
		s.Reconcile(owner)
	}, Hooks[string]{}, WithDelay(50*time.Millisecond), WithScheduler(sched))

	s.SetCurrentValue("b")
	sched.Advance(50 * time.Millisecond)
	if owner != "b" {
		t.Fatalf("owner = %q, want %q", owner, "b")
	}
	if got := s.History(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("history = %v, want [a b]", got)
	}
}

func TestReconcileEqualToCurrent(t *testing.T) {
	s, _, _ := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("b")
	s.Reconcile("b")
	if got := s.History(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("history = %v, want [a b]", got)
	}
	if s.Pending() {
		t.Fatalf("Pending = true, owner already holds the value")
	}
}

func TestForceUpdate(t *testing.T) {
	s, sched, commits := newTestStore("a", time.Second)
	s.SetCurrentValue("b")
	s.ForceUpdate()
	if got := commits.all(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("commits = %v, want [b]", got)
	}
	if s.Pending() {
		t.Fatalf("Pending = true after ForceUpdate")
	}
	sched.Advance(2 * time.Second)
	if got := commits.all(); len(got) != 1 {
		t.Fatalf("commits = %v, want exactly one", got)
	}
}

func TestSynced(t *testing.T) {
	s, sched, _ := newTestStore("a", time.Second)
	if !s.Synced() {
		t.Fatalf("Synced = false for the initial value")
	}
	s.SetCurrentValue("b")
	if s.Synced() {
		t.Fatalf("Synced = true with an uncommitted edit")
	}
	sched.Advance(time.Second)
	if !s.Synced() {
		t.Fatalf("Synced = false after the debounced commit")
	}
	s.Undo(1)
	if s.Synced() {
		t.Fatalf("Synced = true after undoing a committed value")
	}
}

func TestWithoutAutoCommit(t *testing.T) {
	sched := &ManualScheduler{}
	commits := &recorder[string]{}
	s := New("a", commits.add, Hooks[string]{}, WithoutAutoCommit(), WithScheduler(sched))
	s.SetCurrentValue("b")
	if sched.Armed() != 0 {
		t.Fatalf("armed timers = %d, want 0", sched.Armed())
	}
	sched.Advance(time.Hour)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none", got)
	}
	s.ForceUpdate()
	if got := commits.all(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("commits = %v, want [b]", got)
	}
}

func TestCloseCancelsPending(t *testing.T) {
	s, sched, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("b")
	s.Close()
	sched.Advance(time.Second)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none", got)
	}
	s.SetCurrentValue("c")
	if s.CurrentValue() != "b" {
		t.Fatalf("current = %q, closed store must ignore edits", s.CurrentValue())
	}
}

// stickyScheduler hands out timers whose Stop never prevents the callback,
// like a timer that already fired and sits in an event queue.
type stickyScheduler struct {
	fns []func()
}

type stickyTimer struct{}

func (stickyTimer) Stop() bool { return false }

func (s *stickyScheduler) AfterFunc(_ time.Duration, f func()) Timer {
	s.fns = append(s.fns, f)
	return stickyTimer{}
}

func TestLateCallbackObservesCancellation(t *testing.T) {
	sched := &stickyScheduler{}
	commits := &recorder[string]{}
	s := New("a", commits.add, Hooks[string]{}, WithDelay(time.Millisecond), WithScheduler(sched))

	s.SetCurrentValue("stale")
	s.Reconcile("owner")
	if len(sched.fns) != 1 {
		t.Fatalf("armed = %d, want 1", len(sched.fns))
	}
	sched.fns[0]()
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, stale callback must be skipped", got)
	}
	if s.CurrentValue() != "owner" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "owner")
	}

	s.SetCurrentValue("next")
	if len(sched.fns) != 2 {
		t.Fatalf("armed = %d, want 2", len(sched.fns))
	}
	sched.fns[1]()
	if got := commits.all(); !slices.Equal(got, []string{"next"}) {
		t.Fatalf("commits = %v, want [next]", got)
	}
}

func TestTimeSchedulerCommits(t *testing.T) {
	var calls atomic.Int32
	done := make(chan string, 1)
	s := New("", func(v string) {
		calls.Add(1)
		done <- v
	}, Hooks[string]{}, WithDelay(20*time.Millisecond))
	defer s.Close()

	for _, v := range []string{"1", "12", "123"} {
		s.SetCurrentValue(v)
	}
	select {
	case v := <-done:
		if v != "123" {
			t.Fatalf("committed %q, want %q", v, "123")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for commit")
	}
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestResetBetweenSettleAndPublishWins(t *testing.T) {
	s, _, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("x")
	tok := s.live
	v, ok := s.settle(tok)
	if !ok || v != "x" {
		t.Fatalf("settle = %q,%v, want x,true", v, ok)
	}
	s.Reconcile("y")
	s.publish(tok, v)

	if s.CurrentValue() != "y" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "y")
	}
	if got := s.History(); !slices.Equal(got, []string{"a", "x", "y"}) {
		t.Fatalf("history = %v, want [a x y]", got)
	}
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none", got)
	}
}

func TestEditBetweenSettleAndPublishCommitsLatest(t *testing.T) {
	s, sched, commits := newTestStore("a", 100*time.Millisecond)
	s.SetCurrentValue("x")
	tok := s.live
	v, _ := s.settle(tok)
	s.SetCurrentValue("z")
	s.SetCurrentValue("x")
	s.publish(tok, v)
	if got := commits.all(); len(got) != 0 {
		t.Fatalf("commits = %v, want none before the new debounce", got)
	}
	if !s.Pending() {
		t.Fatalf("Pending = false, want the edit back to x re-armed")
	}
	sched.Advance(100 * time.Millisecond)
	if got := commits.all(); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("commits = %v, want [x]", got)
	}
}

func TestPanickingEqualPropagates(t *testing.T) {
	explode := true
	s := New("a", nil, Hooks[string]{Equal: func(a, b string) bool {
		if explode {
			panic("equal exploded")
		}
		return a == b
	}}, WithScheduler(&ManualScheduler{}))

	func() {
		defer func() {
			if r := recover(); r != "equal exploded" {
				t.Fatalf("recover = %v, want equal exploded", r)
			}
		}()
		s.SetCurrentValue("b")
	}()

	explode = false
	s.SetCurrentValue("b")
	if s.CurrentValue() != "b" {
		t.Fatalf("current = %q, want %q", s.CurrentValue(), "b")
	}
}
