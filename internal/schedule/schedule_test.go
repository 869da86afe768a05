package schedule

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const fullEvent = `
structure:
  slot-duration: 10ms
  slots-per-frame: 4
  frames-per-multiframe: 2
  bandwidth: 1000000
  slot-overhead: 500us
frequencies: [2400000000, 2410000000]
slots:
  - {frame: 0, slot: 0, type: tx, frequency: 2400000000, data-rate: 1000000, service-class: 1, power: 10.5, destination: 3}
  - {frame: 0, slot: 1, type: RX, frequency: 2410000000}
  - {frame: 1, slot: 2, type: tx, frequency: 2400000000}
`

func TestDecodeFullSchedule(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(fullEvent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	full, ok := ev.(FullSchedule)
	if !ok {
		t.Fatalf("expected FullSchedule, got %T", ev)
	}
	want := SlotStructure{
		SlotDuration:        10 * time.Millisecond,
		SlotsPerFrame:       4,
		FramesPerMultiFrame: 2,
		Bandwidth:           1000000,
		SlotOverhead:        500 * time.Microsecond,
	}
	if full.Structure != want {
		t.Fatalf("expected structure %+v, got %+v", want, full.Structure)
	}
	if len(full.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(full.Entries))
	}
	first := full.Entries[0]
	if first.Type != SlotTX || first.DataRate != 1000000 || first.ServiceClass != 1 || first.Power != 10.5 || first.Destination != 3 {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if full.Entries[1].Type != SlotRX {
		t.Fatalf("expected rx entry, got %v", full.Entries[1].Type)
	}
	if full.Entries[2].FrameIndex != 1 || full.Entries[2].SlotIndex != 2 {
		t.Fatalf("expected frame 1 slot 2, got frame %d slot %d", full.Entries[2].FrameIndex, full.Entries[2].SlotIndex)
	}
	if len(full.FrequencySet()) != 2 {
		t.Fatalf("expected 2 frequencies, got %d", len(full.FrequencySet()))
	}
}

func TestDecodeUpdateFromJSON(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(`{"frequencies":[915000000],"slots":[{"frame":1,"slot":3,"type":"idle"}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	upd, ok := ev.(Update)
	if !ok {
		t.Fatalf("expected Update, got %T", ev)
	}
	if len(upd.SlotEntries()) != 1 || upd.Entries[0].Type != SlotIdle {
		t.Fatalf("unexpected entries: %+v", upd.Entries)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"empty", "", ErrMalformedEvent},
		{"garbage", "{{{", ErrMalformedEvent},
		{"unknown field", "bogus: 1", ErrMalformedEvent},
		{"unknown slot type", "slots: [{frame: 0, slot: 0, type: beacon}]", ErrUnknownSlotType},
		{"negative index", "slots: [{frame: -1, slot: 0}]", ErrMalformedEvent},
		{"zero slots per frame", "structure: {slot-duration: 1ms, slots-per-frame: 0, frames-per-multiframe: 1}", ErrInvalidStructure},
		{"missing duration", "structure: {slots-per-frame: 2, frames-per-multiframe: 1}", ErrInvalidStructure},
		{"bad duration", "structure: {slot-duration: soon, slots-per-frame: 2, frames-per-multiframe: 1}", ErrMalformedEvent},
		{"broken second document", "slots: []\n---\nthis is: [not closed\n", ErrMalformedEvent},
		{"two documents", "slots: []\n---\nslots: [{frame: 0, slot: 0, type: tx}]\n", ErrMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tt.data))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("expected %v to wrap %v", err, ErrMalformedEvent)
			}
		})
	}
}

func TestDecodeFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "full.yaml")
	if err := os.WriteFile(path, []byte(fullEvent), 0o600); err != nil {
		t.Fatal(err)
	}
	ev, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := ev.(FullSchedule); !ok {
		t.Fatalf("expected FullSchedule, got %T", ev)
	}

	if _, err := DecodeFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestStructurePosition(t *testing.T) {
	t.Parallel()
	s := SlotStructure{SlotDuration: time.Millisecond, SlotsPerFrame: 4, FramesPerMultiFrame: 2}
	if s.TableSize() != 8 {
		t.Fatalf("expected table size 8, got %d", s.TableSize())
	}
	if got := s.Position(1, 2); got != 6 {
		t.Fatalf("expected position 6, got %d", got)
	}
	if !s.Contains(1, 3) {
		t.Fatal("expected frame 1 slot 3 to be in range")
	}
	if s.Contains(2, 0) || s.Contains(0, 4) {
		t.Fatal("expected out of range indices to be rejected")
	}
}

func TestParseSlotType(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]SlotType{"tx": SlotTX, "RX": SlotRX, " Idle ": SlotIdle, "": SlotIdle} {
		got, err := ParseSlotType(in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestSlotTypeText(t *testing.T) {
	t.Parallel()
	text, err := SlotTX.MarshalText()
	if err != nil || string(text) != "tx" {
		t.Fatalf("expected tx, got %q (%v)", text, err)
	}

	var st SlotType
	if err := st.UnmarshalText([]byte("rx")); err != nil || st != SlotRX {
		t.Fatalf("expected rx, got %v (%v)", st, err)
	}
	if err := st.UnmarshalText([]byte("beacon")); !errors.Is(err, ErrUnknownSlotType) {
		t.Fatalf("expected %v, got %v", ErrUnknownSlotType, err)
	}
}

func TestFullScheduleJSONIsAnEvent(t *testing.T) {
	t.Parallel()
	ev, err := Decode([]byte(fullEvent))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	full := ev.(FullSchedule)

	data, err := json.Marshal(full)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !json.Valid(data) || !strings.Contains(string(data), `"slot-overhead":"500µs"`) {
		t.Fatalf("unexpected encoding %s", data)
	}

	again, err := Decode(data)
	if err != nil {
		t.Fatalf("expected encoded schedule to decode, got %v", err)
	}
	got, ok := again.(FullSchedule)
	if !ok {
		t.Fatalf("expected FullSchedule, got %T", again)
	}
	if got.Structure != full.Structure {
		t.Fatalf("expected structure %+v, got %+v", full.Structure, got.Structure)
	}
	if !slices.Equal(got.Entries, full.Entries) || !slices.Equal(got.Frequencies, full.Frequencies) {
		t.Fatalf("expected %+v, got %+v", full, got)
	}

	var structure SlotStructure
	if err := json.Unmarshal([]byte(`{"slot-duration":"soon"}`), &structure); !errors.Is(err, ErrInvalidStructure) {
		t.Fatalf("expected %v, got %v", ErrInvalidStructure, err)
	}
}
