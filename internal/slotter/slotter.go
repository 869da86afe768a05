// Package slotter converts between absolute time and TDMA slot, frame and
// multiframe indices.
//
// Absolute indices count slots, frames and multiframes since Epoch and never
// wrap. Relative indices locate a slot inside its frame and a frame inside its
// multiframe.
package slotter

import "time"

// Epoch is the instant absolute slot index zero starts at.
var Epoch = time.Unix(0, 0).UTC()

// Slotter holds the active slot structure. The zero value is inactive and
// answers every conversion with zero indices and Epoch.
type Slotter struct {
	slotDuration        time.Duration
	slotsPerFrame       uint32
	framesPerMultiFrame uint32
}

// New returns a Slotter configured with the given structure.
func New(slotDuration time.Duration, slotsPerFrame, framesPerMultiFrame uint32) Slotter {
	var s Slotter
	s.Reset(slotDuration, slotsPerFrame, framesPerMultiFrame)
	return s
}

// Reset reconfigures the converter. Any zero parameter leaves it inactive.
func (s *Slotter) Reset(slotDuration time.Duration, slotsPerFrame, framesPerMultiFrame uint32) {
	s.slotDuration = slotDuration
	s.slotsPerFrame = slotsPerFrame
	s.framesPerMultiFrame = framesPerMultiFrame
}

// Active reports whether every structure parameter is non-zero.
func (s Slotter) Active() bool {
	return s.slotDuration > 0 && s.slotsPerFrame > 0 && s.framesPerMultiFrame > 0
}

// SlotDuration returns the configured slot duration.
func (s Slotter) SlotDuration() time.Duration { return s.slotDuration }

// SlotsPerFrame returns the configured number of slots in a frame.
func (s Slotter) SlotsPerFrame() uint32 { return s.slotsPerFrame }

// FramesPerMultiFrame returns the configured number of frames in a multiframe.
func (s Slotter) FramesPerMultiFrame() uint32 { return s.framesPerMultiFrame }

// SlotsPerMultiFrame returns the number of slots in one multiframe.
func (s Slotter) SlotsPerMultiFrame() uint64 {
	return uint64(s.slotsPerFrame) * uint64(s.framesPerMultiFrame)
}

// AbsoluteIndex returns the absolute slot, frame and multiframe index that t
// falls in. Times before Epoch map to index zero.
func (s Slotter) AbsoluteIndex(t time.Time) (slot, frame, multiFrame uint64) {
	if !s.Active() {
		return 0, 0, 0
	}

	since := t.Sub(Epoch)
	if since < 0 {
		return 0, 0, 0
	}

	slot = uint64(since / s.slotDuration)
	frame = slot / uint64(s.slotsPerFrame)
	multiFrame = frame / uint64(s.framesPerMultiFrame)
	return slot, frame, multiFrame
}

// RelativeIndex returns the slot index within its frame and the frame index
// within its multiframe for an absolute slot index.
func (s Slotter) RelativeIndex(absoluteSlot uint64) (slot, frame uint32) {
	if !s.Active() {
		return 0, 0
	}

	absoluteFrame := absoluteSlot / uint64(s.slotsPerFrame)
	slot = uint32(absoluteSlot % uint64(s.slotsPerFrame))
	frame = uint32(absoluteFrame % uint64(s.framesPerMultiFrame))
	return slot, frame
}

// SlotTime returns the start time of an absolute slot.
func (s Slotter) SlotTime(absoluteSlot uint64) time.Time {
	if !s.Active() {
		return Epoch
	}
	return Epoch.Add(time.Duration(absoluteSlot) * s.slotDuration)
}

// MultiFrameTime returns the start time of an absolute multiframe.
func (s Slotter) MultiFrameTime(absoluteMultiFrame uint64) time.Time {
	if !s.Active() {
		return Epoch
	}
	return s.SlotTime(absoluteMultiFrame * s.SlotsPerMultiFrame())
}
