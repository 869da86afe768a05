// Package stats holds the schedule engine's clearable counters and the slot
// table publisher, and exports both to Prometheus.
package stats

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tdma"

// Counters is a point-in-time copy of the schedule counters.
type Counters struct {
	RejectSlotIndexRange   uint64 `json:"scheduleRejectSlotIndexRange"`
	RejectFrameIndexRange  uint64 `json:"scheduleRejectFrameIndexRange"`
	RejectUpdateBeforeFull uint64 `json:"scheduleRejectUpdateBeforeFull"`
	AcceptFull             uint64 `json:"scheduleAcceptFull"`
	AcceptUpdate           uint64 `json:"scheduleAcceptUpdate"`
}

// Statistics owns the counters and the table publisher. A nil *Statistics
// drops every update.
type Statistics struct {
	rejectSlotIndexRange   atomic.Uint64
	rejectFrameIndexRange  atomic.Uint64
	rejectUpdateBeforeFull atomic.Uint64
	acceptFull             atomic.Uint64
	acceptUpdate           atomic.Uint64

	Table *TablePublisher

	gatherer prometheus.Gatherer

	rejectSlotIndexRangeDesc   *prometheus.Desc
	rejectFrameIndexRangeDesc  *prometheus.Desc
	rejectUpdateBeforeFullDesc *prometheus.Desc
	acceptFullDesc             *prometheus.Desc
	acceptUpdateDesc           *prometheus.Desc
}

// New creates Statistics without registering it anywhere.
func New() *Statistics {
	return &Statistics{
		Table: NewTablePublisher(),
		rejectSlotIndexRangeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "schedule_reject_slot_index_range_total"),
			"Number of schedules rejected due to out of range slot index.", nil, nil),
		rejectFrameIndexRangeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "schedule_reject_frame_index_range_total"),
			"Number of schedules rejected due to out of range frame index.", nil, nil),
		rejectUpdateBeforeFullDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "schedule_reject_update_before_full_total"),
			"Number of schedules rejected due to an update before full schedule.", nil, nil),
		acceptFullDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "schedule_accept_full_total"),
			"Number of full schedules accepted.", nil, nil),
		acceptUpdateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "schedule_accept_update_total"),
			"Number of update schedules accepted.", nil, nil),
	}
}

// Register registers the counters and the table publisher against reg,
// defaulting to the global Prometheus registry when nil.
func (s *Statistics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		s.gatherer = g
	}

	for _, c := range []prometheus.Collector{s, s.Table} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return fmt.Errorf("schedule statistics already registered: %w", err)
			}
			return err
		}
	}
	return nil
}

// Handler exposes the registry the statistics were registered with.
func (s *Statistics) Handler() http.Handler {
	gatherer := s.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (s *Statistics) IncRejectSlotIndexRange() {
	if s != nil {
		s.rejectSlotIndexRange.Add(1)
	}
}

func (s *Statistics) IncRejectFrameIndexRange() {
	if s != nil {
		s.rejectFrameIndexRange.Add(1)
	}
}

func (s *Statistics) IncRejectUpdateBeforeFull() {
	if s != nil {
		s.rejectUpdateBeforeFull.Add(1)
	}
}

func (s *Statistics) IncAcceptFull() {
	if s != nil {
		s.acceptFull.Add(1)
	}
}

func (s *Statistics) IncAcceptUpdate() {
	if s != nil {
		s.acceptUpdate.Add(1)
	}
}

// Snapshot returns the current counter values.
func (s *Statistics) Snapshot() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		RejectSlotIndexRange:   s.rejectSlotIndexRange.Load(),
		RejectFrameIndexRange:  s.rejectFrameIndexRange.Load(),
		RejectUpdateBeforeFull: s.rejectUpdateBeforeFull.Load(),
		AcceptFull:             s.acceptFull.Load(),
		AcceptUpdate:           s.acceptUpdate.Load(),
	}
}

// Clear zeroes every counter. The published table is left alone.
func (s *Statistics) Clear() {
	if s == nil {
		return
	}
	s.rejectSlotIndexRange.Store(0)
	s.rejectFrameIndexRange.Store(0)
	s.rejectUpdateBeforeFull.Store(0)
	s.acceptFull.Store(0)
	s.acceptUpdate.Store(0)
}

func (s *Statistics) Describe(ch chan<- *prometheus.Desc) {
	ch <- s.rejectSlotIndexRangeDesc
	ch <- s.rejectFrameIndexRangeDesc
	ch <- s.rejectUpdateBeforeFullDesc
	ch <- s.acceptFullDesc
	ch <- s.acceptUpdateDesc
}

func (s *Statistics) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	ch <- prometheus.MustNewConstMetric(s.rejectSlotIndexRangeDesc, prometheus.CounterValue, float64(snap.RejectSlotIndexRange))
	ch <- prometheus.MustNewConstMetric(s.rejectFrameIndexRangeDesc, prometheus.CounterValue, float64(snap.RejectFrameIndexRange))
	ch <- prometheus.MustNewConstMetric(s.rejectUpdateBeforeFullDesc, prometheus.CounterValue, float64(snap.RejectUpdateBeforeFull))
	ch <- prometheus.MustNewConstMetric(s.acceptFullDesc, prometheus.CounterValue, float64(snap.AcceptFull))
	ch <- prometheus.MustNewConstMetric(s.acceptUpdateDesc, prometheus.CounterValue, float64(snap.AcceptUpdate))
}
