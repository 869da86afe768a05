// Package scheduler maintains the active TDMA schedule. It ingests full
// schedules and updates, flushes on any invalid update, and answers the
// time-indexed slot queries used by the transmit and receive paths.
//
// One mutex guards the slot table, structure, slotter, frequency set and
// first-query flag together, so a query never pairs a table with the slotter
// of a different structure. Event ingestion is additionally serialized so
// change notifications reach the ScheduleUser in ingest order.
package scheduler

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/USA-RedDragon/tdmasched/internal/schedule"
	"github.com/USA-RedDragon/tdmasched/internal/slotter"
	"github.com/USA-RedDragon/tdmasched/internal/stats"
)

// Change describes the effective schedule after an accept or flush. A flush
// carries no frequencies and zero bandwidth, duration and overhead.
type Change struct {
	Frequencies  []uint64
	Bandwidth    uint64
	SlotDuration time.Duration
	SlotOverhead time.Duration
}

// Active reports whether the change announces a usable schedule.
func (c Change) Active() bool {
	return c.SlotDuration > 0
}

// ScheduleUser is notified every time the effective schedule changes.
type ScheduleUser interface {
	NotifyScheduleChange(Change)
}

// ScheduleUserFunc adapts a function to ScheduleUser.
type ScheduleUserFunc func(Change)

func (f ScheduleUserFunc) NotifyScheduleChange(c Change) { f(c) }

// Outcome reports what an ingested event did to the schedule.
type Outcome uint8

const (
	AcceptedFull Outcome = iota
	AcceptedUpdate
	RejectedUpdateBeforeFull
	RejectedFrameIndexRange
	RejectedSlotIndexRange
	RejectedMalformed
)

func (o Outcome) String() string {
	switch o {
	case AcceptedFull:
		return "accepted full"
	case AcceptedUpdate:
		return "accepted update"
	case RejectedUpdateBeforeFull:
		return "rejected update before full"
	case RejectedFrameIndexRange:
		return "rejected frame index out of range"
	case RejectedSlotIndexRange:
		return "rejected slot index out of range"
	default:
		return "rejected malformed"
	}
}

// Accepted reports whether the event was applied.
func (o Outcome) Accepted() bool {
	return o == AcceptedFull || o == AcceptedUpdate
}

// Flushed reports whether the event cleared the schedule.
func (o Outcome) Flushed() bool {
	return o == RejectedFrameIndexRange || o == RejectedSlotIndexRange || o == RejectedMalformed
}

type Scheduler struct {
	id    uint16
	user  ScheduleUser
	stats *stats.Statistics

	eventMu sync.Mutex

	mu                   sync.Mutex
	structure            schedule.SlotStructure
	table                []schedule.SlotEntry
	frequencies          map[uint64]struct{}
	slotter              slotter.Slotter
	awaitingFirstTxQuery bool
}

// New creates a Scheduler with no active schedule. user and st may be nil.
func New(id uint16, user ScheduleUser, st *stats.Statistics) *Scheduler {
	return &Scheduler{
		id:          id,
		user:        user,
		stats:       st,
		frequencies: map[uint64]struct{}{},
	}
}

// ProcessEventData decodes and ingests a serialized schedule event. A decode
// failure flushes the schedule.
func (s *Scheduler) ProcessEventData(data []byte) Outcome {
	ev, err := schedule.Decode(data)
	if err != nil {
		s.Flush()
		slog.Error("schedule rejected", "node", s.id, "error", err)
		return RejectedMalformed
	}
	return s.ProcessEvent(ev)
}

// ProcessEvent ingests a decoded schedule event.
func (s *Scheduler) ProcessEvent(ev schedule.Event) Outcome {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	slog.Debug("processing schedule event", "node", s.id)

	s.mu.Lock()
	outcome, change, notify := s.apply(ev)
	s.mu.Unlock()

	if notify {
		s.notify(change)
	}
	return outcome
}

// Flush discards the active schedule and notifies the ScheduleUser that no
// schedule is in effect. Flushing an empty schedule notifies again.
func (s *Scheduler) Flush() {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.mu.Lock()
	change := s.flushLocked()
	s.mu.Unlock()

	s.notify(change)
}

func (s *Scheduler) apply(ev schedule.Event) (Outcome, Change, bool) {
	switch ev := ev.(type) {
	case schedule.FullSchedule:
		return s.applyFull(ev)
	case schedule.Update:
		return s.applyUpdate(ev)
	default:
		slog.Error("schedule rejected unknown event", "node", s.id, "event", ev)
		return RejectedMalformed, s.flushLocked(), true
	}
}

func (s *Scheduler) applyFull(full schedule.FullSchedule) (Outcome, Change, bool) {
	slog.Debug("full schedule received", "node", s.id,
		"slotsPerFrame", full.Structure.SlotsPerFrame,
		"framesPerMultiFrame", full.Structure.FramesPerMultiFrame,
		"slotDuration", full.Structure.SlotDuration,
		"entries", len(full.Entries))

	if !full.Structure.Valid() {
		slog.Error("schedule rejected invalid structure", "node", s.id, "structure", full.Structure)
		return RejectedMalformed, s.flushLocked(), true
	}

	table := make([]schedule.SlotEntry, full.Structure.TableSize())
	for frame := range full.Structure.FramesPerMultiFrame {
		for slot := range full.Structure.SlotsPerFrame {
			table[full.Structure.Position(frame, slot)] = schedule.SlotEntry{
				Type:       schedule.SlotIdle,
				FrameIndex: frame,
				SlotIndex:  slot,
			}
		}
	}

	placed := make([]schedule.SlotEntry, 0, len(full.Entries))
	for _, e := range full.Entries {
		if !full.Structure.Contains(e.FrameIndex, e.SlotIndex) {
			slog.Warn("full schedule entry outside structure ignored", "node", s.id,
				"frameIndex", e.FrameIndex, "slotIndex", e.SlotIndex)
			continue
		}
		table[full.Structure.Position(e.FrameIndex, e.SlotIndex)] = e
		placed = append(placed, e)
	}

	s.table = table
	s.structure = full.Structure
	s.frequencies = map[uint64]struct{}{}
	s.mergeFrequencies(full.Frequencies)
	s.slotter.Reset(s.structure.SlotDuration, s.structure.SlotsPerFrame, s.structure.FramesPerMultiFrame)
	s.awaitingFirstTxQuery = true

	s.stats.IncAcceptFull()
	if s.stats != nil {
		s.stats.Table.Replace(placed, s.structure)
	}

	return AcceptedFull, s.changeLocked(), true
}

func (s *Scheduler) applyUpdate(update schedule.Update) (Outcome, Change, bool) {
	if len(s.table) == 0 {
		slog.Error("schedule rejected update received before full schedule", "node", s.id)
		s.stats.IncRejectUpdateBeforeFull()
		return RejectedUpdateBeforeFull, Change{}, false
	}

	positions := make([]int, 0, len(update.Entries))
	for _, e := range update.Entries {
		if e.FrameIndex >= s.structure.FramesPerMultiFrame {
			slog.Error("schedule rejected update frame index out of range", "node", s.id,
				"frameIndex", e.FrameIndex, "framesPerMultiFrame", s.structure.FramesPerMultiFrame)
			s.stats.IncRejectFrameIndexRange()
			return RejectedFrameIndexRange, s.flushLocked(), true
		}
		if e.SlotIndex >= s.structure.SlotsPerFrame {
			slog.Error("schedule rejected update slot index out of range", "node", s.id,
				"slotIndex", e.SlotIndex, "slotsPerFrame", s.structure.SlotsPerFrame)
			s.stats.IncRejectSlotIndexRange()
			return RejectedSlotIndexRange, s.flushLocked(), true
		}
		positions = append(positions, s.structure.Position(e.FrameIndex, e.SlotIndex))
	}

	for i, pos := range positions {
		s.table[pos] = update.Entries[i]
	}
	s.mergeFrequencies(update.Frequencies)
	s.awaitingFirstTxQuery = true

	s.stats.IncAcceptUpdate()
	if s.stats != nil {
		s.stats.Table.Update(update.Entries)
	}

	slog.Debug("schedule update accepted", "node", s.id, "entries", len(update.Entries))

	return AcceptedUpdate, s.changeLocked(), true
}

func (s *Scheduler) flushLocked() Change {
	slog.Debug("flushing schedule", "node", s.id)

	s.table = nil
	s.structure = schedule.SlotStructure{}
	s.frequencies = map[uint64]struct{}{}
	s.slotter.Reset(0, 0, 0)
	if s.stats != nil {
		s.stats.Table.Clear()
	}
	return Change{}
}

func (s *Scheduler) mergeFrequencies(frequencies []uint64) {
	for _, f := range frequencies {
		s.frequencies[f] = struct{}{}
	}
}

func (s *Scheduler) changeLocked() Change {
	return Change{
		Frequencies:  s.sortedFrequencies(),
		Bandwidth:    s.structure.Bandwidth,
		SlotDuration: s.structure.SlotDuration,
		SlotOverhead: s.structure.SlotOverhead,
	}
}

func (s *Scheduler) sortedFrequencies() []uint64 {
	return slices.Sorted(maps.Keys(s.frequencies))
}

func (s *Scheduler) notify(c Change) {
	if s.user == nil {
		return
	}
	s.user.NotifyScheduleChange(c)
}

// HasSchedule reports whether a schedule is active.
func (s *Scheduler) HasSchedule() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.table) != 0
}

// Structure returns the active structure.
func (s *Scheduler) Structure() (schedule.SlotStructure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.structure, len(s.table) != 0
}

// Frequencies returns the frequencies in use, ascending.
func (s *Scheduler) Frequencies() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedFrequencies()
}

// Table returns a copy of the slot table, one multiframe in frame-major order.
func (s *Scheduler) Table() []schedule.SlotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.table)
}
