package scheduler

import (
	"log/slog"
	"time"

	"github.com/USA-RedDragon/tdmasched/internal/schedule"
)

// MinTime is the start time carried by results produced without a schedule.
var MinTime = time.Time{}

// SlotInfo locates one absolute slot in the schedule.
type SlotInfo struct {
	AbsoluteSlotIndex  uint64            `json:"absoluteSlotIndex"`
	TablePosition      int               `json:"tablePosition"`
	RelativeSlotIndex  uint32            `json:"relativeSlotIndex"`
	RelativeFrameIndex uint32            `json:"relativeFrameIndex"`
	StartTime          time.Time         `json:"startTime"`
	Type               schedule.SlotType `json:"type"`
}

type RxSlotInfo struct {
	AbsoluteSlotIndex  uint64    `json:"absoluteSlotIndex"`
	TablePosition      int       `json:"tablePosition"`
	RelativeSlotIndex  uint32    `json:"relativeSlotIndex"`
	RelativeFrameIndex uint32    `json:"relativeFrameIndex"`
	StartTime          time.Time `json:"startTime"`
	// Frequency is in Hz
	Frequency uint64 `json:"frequency"`
}

// TxSlotInfo is one transmit opportunity. SlotIndex and FrameIndex are the
// indices the entry was declared for.
type TxSlotInfo struct {
	AbsoluteSlotIndex uint64    `json:"absoluteSlotIndex"`
	TablePosition     int       `json:"tablePosition"`
	SlotIndex         uint32    `json:"slotIndex"`
	FrameIndex        uint32    `json:"frameIndex"`
	StartTime         time.Time `json:"startTime"`
	Frequency         uint64    `json:"frequency"`
	DataRate          uint64    `json:"dataRate"`
	ServiceClass      uint8     `json:"serviceClass"`
	Power             float64   `json:"power"`
	Destination       uint16    `json:"destination"`
}

// noSlot is returned, with ok false, when no schedule is active.
var noSlot = SlotInfo{StartTime: MinTime, Type: schedule.SlotIdle}

// SlotInfoAt resolves an absolute slot index. ok is false, and the result
// carries zero indices and MinTime, when no schedule is active.
func (s *Scheduler) SlotInfoAt(absoluteSlot uint64) (info SlotInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.table) == 0 {
		return noSlot, false
	}
	return s.slotInfoLocked(absoluteSlot), true
}

// SlotInfoAtTime resolves the slot containing t.
func (s *Scheduler) SlotInfoAtTime(t time.Time) (info SlotInfo, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.table) == 0 {
		return noSlot, false
	}
	absoluteSlot, _, _ := s.slotter.AbsoluteIndex(t)
	return s.slotInfoLocked(absoluteSlot), true
}

func (s *Scheduler) slotInfoLocked(absoluteSlot uint64) SlotInfo {
	relSlot, relFrame := s.slotter.RelativeIndex(absoluteSlot)
	pos := s.structure.Position(relFrame, relSlot)

	slotType := schedule.SlotIdle
	switch s.table[pos].Type {
	case schedule.SlotRX:
		slotType = schedule.SlotRX
	case schedule.SlotTX:
		slotType = schedule.SlotTX
	}

	return SlotInfo{
		AbsoluteSlotIndex:  absoluteSlot,
		TablePosition:      pos,
		RelativeSlotIndex:  relSlot,
		RelativeFrameIndex: relFrame,
		StartTime:          s.slotter.SlotTime(absoluteSlot),
		Type:               slotType,
	}
}

// RxSlotInfoAt resolves the slot containing t for the receive path. isRx is
// true only for RX slots; the frequency is filled in regardless.
func (s *Scheduler) RxSlotInfoAt(t time.Time) (info RxSlotInfo, isRx bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.table) == 0 {
		return RxSlotInfo{StartTime: MinTime}, false
	}

	absoluteSlot, _, _ := s.slotter.AbsoluteIndex(t)
	slot := s.slotInfoLocked(absoluteSlot)
	entry := s.table[slot.TablePosition]

	return RxSlotInfo{
		AbsoluteSlotIndex:  slot.AbsoluteSlotIndex,
		TablePosition:      slot.TablePosition,
		RelativeSlotIndex:  slot.RelativeSlotIndex,
		RelativeFrameIndex: slot.RelativeFrameIndex,
		StartTime:          slot.StartTime,
		Frequency:          entry.Frequency,
	}, entry.Type == schedule.SlotRX
}

// TxSlotInfos returns every TX slot in the next multiframes multiframes
// starting at the multiframe containing t, along with the start of the first
// multiframe past the scanned window. Feeding that time back in continues the
// scan with no gap or overlap.
//
// The first call after a schedule change starts at the multiframe following
// the one containing t instead.
func (s *Scheduler) TxSlotInfos(t time.Time, multiframes int) ([]TxSlotInfo, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txSlotInfosLocked(t, multiframes, true)
}

// PeekTxSlotInfos answers the same query as TxSlotInfos without consuming the
// post-change snap, so the transmit path still sees it on its next call.
func (s *Scheduler) PeekTxSlotInfos(t time.Time, multiframes int) ([]TxSlotInfo, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txSlotInfosLocked(t, multiframes, false)
}

func (s *Scheduler) txSlotInfosLocked(t time.Time, multiframes int, consume bool) ([]TxSlotInfo, time.Time) {
	if len(s.table) == 0 {
		return nil, MinTime
	}

	requestTime := t
	if s.awaitingFirstTxQuery {
		_, _, mf := s.slotter.AbsoluteIndex(t)
		requestTime = s.slotter.MultiFrameTime(mf + 1)
		if consume {
			s.awaitingFirstTxQuery = false
			slog.Debug("first tx query since schedule change", "node", s.id,
				"requested", t, "effective", requestTime)
		}
	}

	absoluteSlot, _, absoluteMultiFrame := s.slotter.AbsoluteIndex(requestTime)
	relSlot, relFrame := s.slotter.RelativeIndex(absoluteSlot)
	pos := s.structure.Position(relFrame, relSlot)

	if multiframes <= 0 {
		return nil, s.slotter.MultiFrameTime(absoluteMultiFrame)
	}

	var infos []TxSlotInfo
	for range multiframes {
		for ; pos < len(s.table); pos++ {
			entry := s.table[pos]
			if entry.Type == schedule.SlotTX {
				infos = append(infos, TxSlotInfo{
					AbsoluteSlotIndex: absoluteSlot,
					TablePosition:     pos,
					SlotIndex:         entry.SlotIndex,
					FrameIndex:        entry.FrameIndex,
					StartTime:         s.slotter.SlotTime(absoluteSlot),
					Frequency:         entry.Frequency,
					DataRate:          entry.DataRate,
					ServiceClass:      entry.ServiceClass,
					Power:             entry.Power,
					Destination:       entry.Destination,
				})
			}
			absoluteSlot++
		}
		pos = 0
	}

	return infos, s.slotter.MultiFrameTime(absoluteMultiFrame + uint64(multiframes))
}
