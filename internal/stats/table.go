package stats

import (
	"slices"
	"strconv"
	"sync"

	"github.com/USA-RedDragon/tdmasched/internal/schedule"
	"github.com/prometheus/client_golang/prometheus"
)

type slotKey struct {
	frame uint32
	slot  uint32
}

// TablePublisher mirrors the declared schedule for external introspection.
// Rows are keyed by the frame/slot index each entry was declared for.
type TablePublisher struct {
	mu        sync.RWMutex
	rows      map[slotKey]schedule.SlotEntry
	structure *schedule.SlotStructure

	slotDesc                *prometheus.Desc
	slotDurationDesc        *prometheus.Desc
	slotOverheadDesc        *prometheus.Desc
	slotsPerFrameDesc       *prometheus.Desc
	framesPerMultiFrameDesc *prometheus.Desc
	bandwidthDesc           *prometheus.Desc
}

func NewTablePublisher() *TablePublisher {
	return &TablePublisher{
		rows: map[slotKey]schedule.SlotEntry{},
		slotDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "slot_info"),
			"Declared slot assignments of the active schedule.",
			[]string{"frame", "slot", "type", "frequency", "data_rate", "service_class", "power", "destination"}, nil),
		slotDurationDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "structure_slot_duration_seconds"),
			"Slot duration of the active schedule.", nil, nil),
		slotOverheadDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "structure_slot_overhead_seconds"),
			"Slot overhead of the active schedule.", nil, nil),
		slotsPerFrameDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "structure_slots_per_frame"),
			"Slots per frame of the active schedule.", nil, nil),
		framesPerMultiFrameDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "structure_frames_per_multiframe"),
			"Frames per multiframe of the active schedule.", nil, nil),
		bandwidthDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "schedule", "structure_bandwidth_hz"),
			"Bandwidth of the active schedule.", nil, nil),
	}
}

// Replace swaps in a new structure and its declared entries.
func (p *TablePublisher) Replace(entries []schedule.SlotEntry, structure schedule.SlotStructure) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rows = make(map[slotKey]schedule.SlotEntry, len(entries))
	for _, e := range entries {
		p.rows[slotKey{e.FrameIndex, e.SlotIndex}] = e
	}
	p.structure = &structure
}

// Update overwrites the rows for the given entries.
func (p *TablePublisher) Update(entries []schedule.SlotEntry) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range entries {
		p.rows[slotKey{e.FrameIndex, e.SlotIndex}] = e
	}
}

// Clear drops every row and the structure.
func (p *TablePublisher) Clear() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rows = map[slotKey]schedule.SlotEntry{}
	p.structure = nil
}

// Rows returns the published entries ordered by frame then slot.
func (p *TablePublisher) Rows() []schedule.SlotEntry {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	rows := make([]schedule.SlotEntry, 0, len(p.rows))
	for _, e := range p.rows {
		rows = append(rows, e)
	}
	slices.SortFunc(rows, func(a, b schedule.SlotEntry) int {
		if a.FrameIndex != b.FrameIndex {
			return int(a.FrameIndex) - int(b.FrameIndex)
		}
		return int(a.SlotIndex) - int(b.SlotIndex)
	})
	return rows
}

// Structure returns the published structure, if any.
func (p *TablePublisher) Structure() (schedule.SlotStructure, bool) {
	if p == nil {
		return schedule.SlotStructure{}, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.structure == nil {
		return schedule.SlotStructure{}, false
	}
	return *p.structure, true
}

func (p *TablePublisher) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.slotDesc
	ch <- p.slotDurationDesc
	ch <- p.slotOverheadDesc
	ch <- p.slotsPerFrameDesc
	ch <- p.framesPerMultiFrameDesc
	ch <- p.bandwidthDesc
}

func (p *TablePublisher) Collect(ch chan<- prometheus.Metric) {
	for _, e := range p.Rows() {
		ch <- prometheus.MustNewConstMetric(p.slotDesc, prometheus.GaugeValue, 1,
			strconv.FormatUint(uint64(e.FrameIndex), 10),
			strconv.FormatUint(uint64(e.SlotIndex), 10),
			e.Type.String(),
			strconv.FormatUint(e.Frequency, 10),
			strconv.FormatUint(e.DataRate, 10),
			strconv.FormatUint(uint64(e.ServiceClass), 10),
			strconv.FormatFloat(e.Power, 'f', -1, 64),
			strconv.FormatUint(uint64(e.Destination), 10),
		)
	}

	structure, ok := p.Structure()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(p.slotDurationDesc, prometheus.GaugeValue, structure.SlotDuration.Seconds())
	ch <- prometheus.MustNewConstMetric(p.slotOverheadDesc, prometheus.GaugeValue, structure.SlotOverhead.Seconds())
	ch <- prometheus.MustNewConstMetric(p.slotsPerFrameDesc, prometheus.GaugeValue, float64(structure.SlotsPerFrame))
	ch <- prometheus.MustNewConstMetric(p.framesPerMultiFrameDesc, prometheus.GaugeValue, float64(structure.FramesPerMultiFrame))
	ch <- prometheus.MustNewConstMetric(p.bandwidthDesc, prometheus.GaugeValue, float64(structure.Bandwidth))
}
