package cycle

import gosync "sync"

// DefaultHistorySize is the number of runs kept in memory.
const DefaultHistorySize = 50

// History is a fixed-size ring of the most recent runs.
type History struct {
	mu   gosync.Mutex
	runs []Run
	next int
	full bool
}

// NewHistory creates a History holding at most size runs.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{runs: make([]Run, size)}
}

// Add appends a run, evicting the oldest one when full.
func (h *History) Add(run Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs[h.next] = run
	h.next = (h.next + 1) % len(h.runs)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to limit runs, newest first. A limit <= 0 returns all.
func (h *History) Recent(limit int) []Run {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.runs)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Run, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.runs)) % len(h.runs)
		out = append(out, h.runs[idx])
	}
	return out
}

// Last returns the most recent run.
func (h *History) Last() (Run, bool) {
	runs := h.Recent(1)
	if len(runs) == 0 {
		return Run{}, false
	}
	return runs[0], true
}
