package schedule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrMalformedEvent   = errors.New("malformed schedule event")
	ErrUnknownSlotType  = errors.New("unknown slot type")
	ErrInvalidStructure = errors.New("invalid slot structure")
)

// wireEvent is the YAML (or JSON) encoding of a schedule event. The presence
// of structure marks a full schedule.
type wireEvent struct {
	Structure   *wireStructure `yaml:"structure"`
	Frequencies []uint64       `yaml:"frequencies"`
	Slots       []wireSlot     `yaml:"slots"`
}

type wireStructure struct {
	SlotDuration        time.Duration `yaml:"slot-duration"`
	SlotsPerFrame       uint32        `yaml:"slots-per-frame"`
	FramesPerMultiFrame uint32        `yaml:"frames-per-multiframe"`
	Bandwidth           uint64        `yaml:"bandwidth"`
	SlotOverhead        time.Duration `yaml:"slot-overhead"`
}

type wireSlot struct {
	Frame        uint32   `yaml:"frame"`
	Slot         uint32   `yaml:"slot"`
	Type         SlotType `yaml:"type"`
	Frequency    uint64   `yaml:"frequency"`
	DataRate     uint64   `yaml:"data-rate"`
	ServiceClass uint8    `yaml:"service-class"`
	Power        float64  `yaml:"power"`
	Destination  uint16   `yaml:"destination"`
}

// Decode parses a single schedule event. Every failure wraps
// ErrMalformedEvent.
func Decode(data []byte) (Event, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty event", ErrMalformedEvent)
		}
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: more than one document", ErrMalformedEvent)
	}

	entries := make([]SlotEntry, 0, len(w.Slots))
	for _, s := range w.Slots {
		entries = append(entries, SlotEntry{
			Type:         s.Type,
			FrameIndex:   s.Frame,
			SlotIndex:    s.Slot,
			Frequency:    s.Frequency,
			DataRate:     s.DataRate,
			ServiceClass: s.ServiceClass,
			Power:        s.Power,
			Destination:  s.Destination,
		})
	}

	if w.Structure == nil {
		return Update{Entries: entries, Frequencies: w.Frequencies}, nil
	}

	structure := SlotStructure{
		SlotDuration:        w.Structure.SlotDuration,
		SlotsPerFrame:       w.Structure.SlotsPerFrame,
		FramesPerMultiFrame: w.Structure.FramesPerMultiFrame,
		Bandwidth:           w.Structure.Bandwidth,
		SlotOverhead:        w.Structure.SlotOverhead,
	}
	if !structure.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, ErrInvalidStructure)
	}

	return FullSchedule{Structure: structure, Entries: entries, Frequencies: w.Frequencies}, nil
}

// DecodeFile reads and decodes an event file.
func DecodeFile(path string) (Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read event file: %w", err)
	}
	return Decode(data)
}
