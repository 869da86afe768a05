// Package datapath walks the schedule's transmit opportunities window by
// window, chaining each query's window end into the next query the way the
// MAC transmit path does.
package datapath

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/USA-RedDragon/tdmasched/internal/scheduler"
)

// TxQuerier is the part of the scheduler the monitor consumes.
type TxQuerier interface {
	TxSlotInfos(t time.Time, multiframes int) ([]scheduler.TxSlotInfo, time.Time)
}

// Monitor polls for transmit opportunities. It also implements
// scheduler.ScheduleUser so a schedule change resets its window cursor.
type Monitor struct {
	querier     TxQuerier
	multiframes int
	interval    time.Duration
	now         func() time.Time

	mu         sync.Mutex
	active     bool
	cursor     time.Time // end of the last scanned window
	lastWindow time.Duration

	opportunities atomic.Uint64
	windows       atomic.Uint64

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMonitor(querier TxQuerier, multiframes int, interval time.Duration) *Monitor {
	if multiframes < 1 {
		multiframes = 1
	}
	return &Monitor{
		querier:     querier,
		multiframes: multiframes,
		interval:    interval,
		now:         time.Now,
		done:        make(chan struct{}),
	}
}

// NotifyScheduleChange drops the window cursor. An inactive change pauses
// polling until the next schedule arrives.
func (m *Monitor) NotifyScheduleChange(c scheduler.Change) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = c.Active()
	m.cursor = time.Time{}
	m.lastWindow = 0

	slog.Info("schedule changed",
		"active", c.Active(),
		"frequencies", c.Frequencies,
		"bandwidth", c.Bandwidth,
		"slotDuration", c.SlotDuration,
		"slotOverhead", c.SlotOverhead)
}

// Poll scans the next window once the previous one has been reached and
// returns its transmit opportunities. It returns nil while the current window
// is still ahead or no schedule is active.
func (m *Monitor) Poll() []scheduler.TxSlotInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return nil
	}

	now := m.now()
	start := m.cursor
	switch {
	case start.IsZero():
		start = now
	case now.Before(start):
		return nil
	case now.Sub(start) >= m.lastWindow:
		slog.Warn("transmit monitor fell behind, resynchronizing",
			"windowStart", start, "now", now)
		start = now
	}

	infos, end := m.querier.TxSlotInfos(start, m.multiframes)
	if !end.After(start) {
		// schedule went away between the notification and the query
		return nil
	}

	m.lastWindow = end.Sub(start)
	m.cursor = end
	m.windows.Add(1)
	m.opportunities.Add(uint64(len(infos)))

	for _, info := range infos {
		slog.Debug("transmit opportunity",
			"absoluteSlot", info.AbsoluteSlotIndex,
			"frame", info.FrameIndex,
			"slot", info.SlotIndex,
			"start", info.StartTime,
			"frequency", info.Frequency,
			"destination", info.Destination)
	}
	return infos
}

// Cursor returns the end of the last scanned window.
func (m *Monitor) Cursor() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

// Stats returns the number of windows scanned and opportunities seen.
func (m *Monitor) Stats() (windows, opportunities uint64) {
	return m.windows.Load(), m.opportunities.Load()
}

func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	slog.Info("Starting transmit opportunity monitor",
		"multiframes", m.multiframes, "interval", m.interval)

	m.wg.Add(1)
	go m.run()
}

func (m *Monitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Poll()
		case <-m.done:
			return
		}
	}
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		slog.Info("Stopping transmit opportunity monitor")
		close(m.done)
	})
	m.wg.Wait()
}
