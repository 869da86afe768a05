// Package schedule defines the TDMA slot structure, slot assignments and the
// schedule-change events that carry them.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type SlotType uint8

const (
	SlotIdle SlotType = iota
	SlotRX
	SlotTX
)

func (t SlotType) String() string {
	switch t {
	case SlotRX:
		return "rx"
	case SlotTX:
		return "tx"
	default:
		return "idle"
	}
}

// ParseSlotType accepts rx, tx or idle in any case.
func ParseSlotType(s string) (SlotType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rx":
		return SlotRX, nil
	case "tx":
		return SlotTX, nil
	case "idle", "":
		return SlotIdle, nil
	default:
		return SlotIdle, fmt.Errorf("%w: %q", ErrUnknownSlotType, s)
	}
}

func (t *SlotType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseSlotType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t SlotType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SlotType) UnmarshalText(text []byte) error {
	parsed, err := ParseSlotType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SlotStructure describes how the channel is divided into slots, frames and
// multiframes. Its JSON form uses the event file keys, with durations as
// strings like "10ms".
type SlotStructure struct {
	SlotDuration        time.Duration
	SlotsPerFrame       uint32
	FramesPerMultiFrame uint32
	// Bandwidth is in Hz
	Bandwidth    uint64
	SlotOverhead time.Duration
}

type structureJSON struct {
	SlotDuration        string `json:"slot-duration"`
	SlotsPerFrame       uint32 `json:"slots-per-frame"`
	FramesPerMultiFrame uint32 `json:"frames-per-multiframe"`
	Bandwidth           uint64 `json:"bandwidth"`
	SlotOverhead        string `json:"slot-overhead"`
}

func (s SlotStructure) MarshalJSON() ([]byte, error) {
	return json.Marshal(structureJSON{
		SlotDuration:        s.SlotDuration.String(),
		SlotsPerFrame:       s.SlotsPerFrame,
		FramesPerMultiFrame: s.FramesPerMultiFrame,
		Bandwidth:           s.Bandwidth,
		SlotOverhead:        s.SlotOverhead.String(),
	})
}

func (s *SlotStructure) UnmarshalJSON(data []byte) error {
	var j structureJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	slotDuration, err := parseDuration(j.SlotDuration)
	if err != nil {
		return err
	}
	slotOverhead, err := parseDuration(j.SlotOverhead)
	if err != nil {
		return err
	}
	*s = SlotStructure{
		SlotDuration:        slotDuration,
		SlotsPerFrame:       j.SlotsPerFrame,
		FramesPerMultiFrame: j.FramesPerMultiFrame,
		Bandwidth:           j.Bandwidth,
		SlotOverhead:        slotOverhead,
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidStructure, err)
	}
	return d, nil
}

// Valid reports whether the structure can back an active schedule.
func (s SlotStructure) Valid() bool {
	return s.SlotDuration > 0 && s.SlotsPerFrame > 0 && s.FramesPerMultiFrame > 0
}

// TableSize is the number of slot entries in one multiframe.
func (s SlotStructure) TableSize() int {
	return int(s.SlotsPerFrame) * int(s.FramesPerMultiFrame)
}

// Contains reports whether a frame/slot pair lies inside the structure.
func (s SlotStructure) Contains(frameIndex, slotIndex uint32) bool {
	return frameIndex < s.FramesPerMultiFrame && slotIndex < s.SlotsPerFrame
}

// Position flattens a frame/slot pair into its slot table position. Every
// table lookup and write goes through here.
func (s SlotStructure) Position(frameIndex, slotIndex uint32) int {
	return int(frameIndex)*int(s.SlotsPerFrame) + int(slotIndex)
}

// SlotEntry is one (frame, slot) assignment.
type SlotEntry struct {
	Type       SlotType `json:"type"`
	FrameIndex uint32   `json:"frame"`
	SlotIndex  uint32   `json:"slot"`
	// Frequency is in Hz
	Frequency uint64 `json:"frequency"`
	// DataRate is in bps
	DataRate     uint64 `json:"data-rate"`
	ServiceClass uint8  `json:"service-class"`
	// Power is in dBm
	Power float64 `json:"power"`
	// Destination is only meaningful for TX slots
	Destination uint16 `json:"destination"`
}

// Event is a schedule-change event: either a FullSchedule or an Update.
type Event interface {
	SlotEntries() []SlotEntry
	FrequencySet() []uint64
	isEvent()
}

// FullSchedule redefines the structure and replaces the whole slot table. Its
// JSON form is a valid event body.
type FullSchedule struct {
	Structure   SlotStructure `json:"structure"`
	Frequencies []uint64      `json:"frequencies"`
	Entries     []SlotEntry   `json:"slots"`
}

func (f FullSchedule) SlotEntries() []SlotEntry { return f.Entries }
func (f FullSchedule) FrequencySet() []uint64   { return f.Frequencies }
func (FullSchedule) isEvent()                   {}

// Update overwrites individual entries of the active schedule.
type Update struct {
	Frequencies []uint64    `json:"frequencies"`
	Entries     []SlotEntry `json:"slots"`
}

func (u Update) SlotEntries() []SlotEntry { return u.Entries }
func (u Update) FrequencySet() []uint64   { return u.Frequencies }
func (Update) isEvent()                   {}
