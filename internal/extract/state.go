package extract

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/ecoparse/internal/model"
)

// RunState holds the counters and completed-entity set of one logical run.
// A resumed run continues the same state, so counters only ever grow.
type RunState struct {
	active  atomic.Bool
	running atomic.Bool
	// stopRequested holds a stop that arrived before the run began, so
	// that begin can honour it.
	stopRequested atomic.Bool
	total         atomic.Int64
	processed     atomic.Int64
	inputTokens   atomic.Int64
	outputTokens  atomic.Int64
	elapsed       atomic.Int64
	costBits      atomic.Uint64

	mu        sync.Mutex
	status    model.RunStatus
	completed map[string]struct{}
}

// NewRunState returns an idle state with zero counters.
func NewRunState() *RunState {
	return &RunState{
		status:    model.RunStatusIdle,
		completed: make(map[string]struct{}),
	}
}

// Seed continues a persisted run: totals are added to the current counters
// and completed names are marked done.
func (s *RunState) Seed(totals model.RunTotals, completed []string) {
	s.processed.Add(totals.Processed)
	s.inputTokens.Add(totals.InputTokens)
	s.outputTokens.Add(totals.OutputTokens)
	s.elapsed.Add(int64(time.Duration(totals.ElapsedMs) * time.Millisecond))
	s.addCost(totals.EstimatedCostUSD)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range completed {
		s.completed[name] = struct{}{}
	}
}

// Reset discards all counters and the completed set.
func (s *RunState) Reset() {
	s.active.Store(false)
	s.running.Store(false)
	s.stopRequested.Store(false)
	s.total.Store(0)
	s.processed.Store(0)
	s.inputTokens.Store(0)
	s.outputTokens.Store(0)
	s.elapsed.Store(0)
	s.costBits.Store(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = model.RunStatusIdle
	s.completed = make(map[string]struct{})
}

// Running reports the cooperative running flag.
func (s *RunState) Running() bool { return s.running.Load() }

// Status returns the lifecycle state.
func (s *RunState) Status() model.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Total is the number of distinct entities in the logical run.
func (s *RunState) Total() int { return int(s.total.Load()) }

// Processed is the number of entities with a result so far.
func (s *RunState) Processed() int { return int(s.processed.Load()) }

// IsCompleted reports whether name already has a result in this run.
func (s *RunState) IsCompleted(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[name]
	return ok
}

// Totals snapshots the cumulative counters.
func (s *RunState) Totals() model.RunTotals {
	return model.RunTotals{
		Processed:        s.processed.Load(),
		InputTokens:      s.inputTokens.Load(),
		OutputTokens:     s.outputTokens.Load(),
		ElapsedMs:        time.Duration(s.elapsed.Load()).Milliseconds(),
		EstimatedCostUSD: math.Float64frombits(s.costBits.Load()),
	}
}

// begin moves the state to running. It fails while another call is still
// draining, even after Stop. A stop requested before begin leaves the
// running flag cleared, so no task is dispatched.
func (s *RunState) begin() bool {
	if !s.active.CompareAndSwap(false, true) {
		return false
	}
	// running is set before the pending stop is consumed: a concurrent
	// requestStop either is seen here or finds running set and clears it.
	s.running.Store(true)
	if s.stopRequested.Swap(false) {
		s.running.Store(false)
	}
	s.setStatus(model.RunStatusRunning)
	return true
}

// requestStop clears the running flag, or records the stop for the next
// begin when no run is in progress. It reports whether a running run was
// stopped.
func (s *RunState) requestStop() bool {
	s.stopRequested.Store(true)
	if s.running.CompareAndSwap(true, false) {
		s.stopRequested.Store(false)
		return true
	}
	return false
}

// end clears the running flag and records the final status and elapsed time.
func (s *RunState) end(status model.RunStatus, elapsed time.Duration) {
	s.elapsed.Add(int64(elapsed))
	s.setStatus(status)
	s.running.Store(false)
	s.stopRequested.Store(false)
	s.active.Store(false)
}

func (s *RunState) setStatus(st model.RunStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// claim marks name completed. It returns false when name already was.
func (s *RunState) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completed[name]; ok {
		return false
	}
	s.completed[name] = struct{}{}
	return true
}

// record adds one finished task and returns the processed count.
func (s *RunState) record(res model.Result, costUSD float64) int {
	s.inputTokens.Add(res.InputTokens)
	s.outputTokens.Add(res.OutputTokens)
	s.addCost(costUSD)
	return int(s.processed.Add(1))
}

func (s *RunState) addCost(usd float64) {
	if usd == 0 {
		return
	}
	for {
		old := s.costBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + usd)
		if s.costBits.CompareAndSwap(old, next) {
			return
		}
	}
}
