package chth

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a running judge server.
type Metrics struct {
	AcceptOK   atomic.Uint64
	AcceptFail atomic.Uint64

	SubmitsMu sync.Mutex
	Submits   map[string]uint64 // count per language

	VerdictsMu sync.Mutex
	Verdicts   map[byte]uint64 // count per verdict character

	TotalJudgeRuns   atomic.Uint64
	TotalJudgeNs     atomic.Uint64
	MaxQueueDepth    atomic.Uint64
	QueueDepthTotal  atomic.Uint64
	QueueDepthCount  atomic.Uint64

	StartTime atomic.Int64
}

// NewMetrics creates a ready-to-use Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{
		Submits:  make(map[string]uint64),
		Verdicts: make(map[byte]uint64),
	}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) ObserveAccept(success bool) {
	if success {
		m.AcceptOK.Add(1)
	} else {
		m.AcceptFail.Add(1)
	}
}

func (m *Metrics) ObserveSubmit(lang string) {
	m.SubmitsMu.Lock()
	defer m.SubmitsMu.Unlock()
	m.Submits[lang]++
}

func (m *Metrics) ObserveJudgeRun(verdict byte, durationNs uint64) {
	m.TotalJudgeRuns.Add(1)
	m.TotalJudgeNs.Add(durationNs)
	m.VerdictsMu.Lock()
	defer m.VerdictsMu.Unlock()
	m.Verdicts[verdict]++
}

func (m *Metrics) ObserveQueueDepth(depth int) {
	d := uint64(depth)
	m.QueueDepthTotal.Add(d)
	m.QueueDepthCount.Add(1)
	for {
		cur := m.MaxQueueDepth.Load()
		if d <= cur {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(cur, d) {
			break
		}
	}
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without locks.
type MetricsSnapshot struct {
	AcceptOK, AcceptFail uint64
	Submits              map[string]uint64
	Verdicts             map[byte]uint64
	TotalJudgeRuns       uint64
	AvgJudgeNs           uint64
	AvgQueueDepth        float64
	MaxQueueDepth        uint64
	UptimeNs             uint64
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		AcceptOK:       m.AcceptOK.Load(),
		AcceptFail:     m.AcceptFail.Load(),
		Submits:        make(map[string]uint64),
		Verdicts:       make(map[byte]uint64),
		TotalJudgeRuns: m.TotalJudgeRuns.Load(),
		MaxQueueDepth:  m.MaxQueueDepth.Load(),
		UptimeNs:       uint64(time.Now().UnixNano() - m.StartTime.Load()),
	}

	m.SubmitsMu.Lock()
	for k, v := range m.Submits {
		snap.Submits[k] = v
	}
	m.SubmitsMu.Unlock()

	m.VerdictsMu.Lock()
	for k, v := range m.Verdicts {
		snap.Verdicts[k] = v
	}
	m.VerdictsMu.Unlock()

	if snap.TotalJudgeRuns > 0 {
		snap.AvgJudgeNs = m.TotalJudgeNs.Load() / snap.TotalJudgeRuns
	}
	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}
	return snap
}

// NoOpObserver discards everything; used when metrics aren't wired.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAccept(bool)           {}
func (NoOpObserver) ObserveSubmit(string)         {}
func (NoOpObserver) ObserveJudgeRun(byte, uint64) {}
func (NoOpObserver) ObserveQueueDepth(int)        {}
