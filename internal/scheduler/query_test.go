package scheduler

import (
	"testing"
	"time"

	"github.com/USA-RedDragon/tdmasched/internal/schedule"
)

func txIndexes(infos []TxSlotInfo) []uint64 {
	out := make([]uint64, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.AbsoluteSlotIndex)
	}
	return out
}

func equalIndexes(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// consumeFirstQuery clears the post-change snap so later calls scan from the
// requested time.
func consumeFirstQuery(t *testing.T, s *Scheduler) {
	t.Helper()
	s.TxSlotInfos(at(0), 0)
}

func TestSlotInfoAt(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	tests := []struct {
		absolute uint64
		slot     uint32
		frame    uint32
		pos      int
		typ      schedule.SlotType
	}{
		{0, 0, 0, 0, schedule.SlotTX},
		{1, 1, 0, 1, schedule.SlotRX},
		{2, 2, 0, 2, schedule.SlotIdle},
		{6, 2, 1, 6, schedule.SlotTX},
		{7, 3, 1, 7, schedule.SlotRX},
		{8, 0, 0, 0, schedule.SlotTX},
		{13, 1, 1, 5, schedule.SlotIdle},
	}
	for _, tt := range tests {
		info, ok := s.SlotInfoAt(tt.absolute)
		if !ok {
			t.Fatalf("index %d: expected slot info", tt.absolute)
		}
		if info.AbsoluteSlotIndex != tt.absolute || info.RelativeSlotIndex != tt.slot ||
			info.RelativeFrameIndex != tt.frame || info.TablePosition != tt.pos || info.Type != tt.typ {
			t.Fatalf("index %d: unexpected info %+v", tt.absolute, info)
		}
		if want := at(time.Duration(tt.absolute) * 10 * time.Millisecond); !info.StartTime.Equal(want) {
			t.Fatalf("index %d: expected start %v, got %v", tt.absolute, want, info.StartTime)
		}
	}
}

func TestSlotInfoAtTime(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	info, ok := s.SlotInfoAtTime(at(65 * time.Millisecond))
	if !ok {
		t.Fatal("expected slot info")
	}
	if info.AbsoluteSlotIndex != 6 || info.Type != schedule.SlotTX {
		t.Fatalf("unexpected info %+v", info)
	}
	if !info.StartTime.Equal(at(60 * time.Millisecond)) {
		t.Fatalf("expected slot start at 60ms, got %v", info.StartTime)
	}
}

func TestRxSlotInfoAt(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	rx, isRx := s.RxSlotInfoAt(at(15 * time.Millisecond))
	if !isRx {
		t.Fatal("expected rx slot")
	}
	if rx.AbsoluteSlotIndex != 1 || rx.Frequency != 2400000001 {
		t.Fatalf("unexpected rx info %+v", rx)
	}

	tx, isRx := s.RxSlotInfoAt(at(5 * time.Millisecond))
	if isRx {
		t.Fatal("expected tx slot not to be rx")
	}
	if tx.Frequency != 2400000000 {
		t.Fatalf("expected frequency to be filled for non-rx slot, got %d", tx.Frequency)
	}
}

func TestTxSlotInfosFromMultiFrameBoundary(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())
	consumeFirstQuery(t, s)

	infos, end := s.TxSlotInfos(at(160*time.Millisecond), 1)
	if len(infos) != 3 {
		t.Fatalf("expected 3 tx slots, got %d", len(infos))
	}
	wantPos := []int{0, 3, 6}
	for i, info := range infos {
		if info.TablePosition != wantPos[i] {
			t.Fatalf("slot %d: expected position %d, got %d", i, wantPos[i], info.TablePosition)
		}
	}
	if !equalIndexes(txIndexes(infos), []uint64{16, 19, 22}) {
		t.Fatalf("unexpected absolute indexes %v", txIndexes(infos))
	}
	if !end.Equal(at(240 * time.Millisecond)) {
		t.Fatalf("expected window end at 240ms, got %v", end)
	}

	first := infos[0]
	if first.FrameIndex != 0 || first.SlotIndex != 0 || first.Destination != 0 || first.DataRate != 1000000 || first.Power != 10 {
		t.Fatalf("unexpected tx info %+v", first)
	}
	if !first.StartTime.Equal(at(160 * time.Millisecond)) {
		t.Fatalf("expected first slot at 160ms, got %v", first.StartTime)
	}
	if infos[2].FrameIndex != 1 || infos[2].SlotIndex != 2 || infos[2].Frequency != 2400000006 {
		t.Fatalf("unexpected last tx info %+v", infos[2])
	}
}

func TestTxSlotInfosFirstQuerySnaps(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	// 25ms is inside multiframe 0; the first query starts at multiframe 1.
	infos, end := s.TxSlotInfos(at(25*time.Millisecond), 1)
	if !equalIndexes(txIndexes(infos), []uint64{8, 11, 14}) {
		t.Fatalf("expected snapped scan, got %v", txIndexes(infos))
	}
	if !end.Equal(at(160 * time.Millisecond)) {
		t.Fatalf("expected window end at 160ms, got %v", end)
	}

	// Second query is not snapped and starts mid-multiframe.
	infos, end = s.TxSlotInfos(at(25*time.Millisecond), 1)
	if !equalIndexes(txIndexes(infos), []uint64{3, 6}) {
		t.Fatalf("expected unsnapped scan, got %v", txIndexes(infos))
	}
	if !end.Equal(at(80 * time.Millisecond)) {
		t.Fatalf("expected window end at 80ms, got %v", end)
	}

	// An accepted update re-arms the snap.
	s.ProcessEvent(schedule.Update{})
	infos, _ = s.TxSlotInfos(at(0), 1)
	if !equalIndexes(txIndexes(infos), []uint64{8, 11, 14}) {
		t.Fatalf("expected snapped scan after update, got %v", txIndexes(infos))
	}
}

func TestPeekTxSlotInfosKeepsSnap(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)

	if infos, end := s.PeekTxSlotInfos(at(0), 1); infos != nil || !end.Equal(MinTime) {
		t.Fatalf("expected no-schedule sentinel, got %v and %v", infos, end)
	}

	s.ProcessEvent(testFull())

	for range 2 {
		infos, end := s.PeekTxSlotInfos(at(25*time.Millisecond), 1)
		if !equalIndexes(txIndexes(infos), []uint64{8, 11, 14}) {
			t.Fatalf("expected snapped peek, got %v", txIndexes(infos))
		}
		if !end.Equal(at(160 * time.Millisecond)) {
			t.Fatalf("expected window end at 160ms, got %v", end)
		}
	}

	// the transmit path still gets the snap after peeks
	infos, _ := s.TxSlotInfos(at(25*time.Millisecond), 1)
	if !equalIndexes(txIndexes(infos), []uint64{8, 11, 14}) {
		t.Fatalf("expected snapped scan after peeks, got %v", txIndexes(infos))
	}

	infos, _ = s.PeekTxSlotInfos(at(25*time.Millisecond), 1)
	if !equalIndexes(txIndexes(infos), []uint64{3, 6}) {
		t.Fatalf("expected unsnapped peek once consumed, got %v", txIndexes(infos))
	}
}

func TestTxSlotInfosFirstQueryOnBoundary(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	// Even exactly on a boundary the first query moves to the next one.
	infos, end := s.TxSlotInfos(at(80*time.Millisecond), 1)
	if !equalIndexes(txIndexes(infos), []uint64{16, 19, 22}) {
		t.Fatalf("expected scan of multiframe 2, got %v", txIndexes(infos))
	}
	if !end.Equal(at(240 * time.Millisecond)) {
		t.Fatalf("expected window end at 240ms, got %v", end)
	}
}

func TestTxSlotInfosNonPositiveMultiFrames(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())
	consumeFirstQuery(t, s)

	for _, n := range []int{0, -3} {
		infos, end := s.TxSlotInfos(at(125*time.Millisecond), n)
		if len(infos) != 0 {
			t.Fatalf("multiframes %d: expected no tx slots, got %d", n, len(infos))
		}
		if !end.Equal(at(80 * time.Millisecond)) {
			t.Fatalf("multiframes %d: expected current multiframe start at 80ms, got %v", n, end)
		}
	}
}

func TestTxSlotInfosContiguousChaining(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(t)
	s.ProcessEvent(testFull())

	const multiframes = 3
	start := at(37 * time.Millisecond)

	first, end1 := s.TxSlotInfos(start, multiframes)
	second, end2 := s.TxSlotInfos(end1, multiframes)

	// first call snaps to multiframe 1; together the calls cover 1..6
	if !end1.Equal(at(4 * 80 * time.Millisecond)) {
		t.Fatalf("expected first window end at 320ms, got %v", end1)
	}
	if !end2.Equal(at(7 * 80 * time.Millisecond)) {
		t.Fatalf("expected second window end at 560ms, got %v", end2)
	}

	var want []uint64
	for idx := uint64(8); idx < 56; idx++ {
		info, _ := s.SlotInfoAt(idx)
		if info.Type == schedule.SlotTX {
			want = append(want, idx)
		}
	}
	got := append(txIndexes(first), txIndexes(second)...)
	if !equalIndexes(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(got) != 2*multiframes*3 {
		t.Fatalf("expected %d tx slots, got %d", 2*multiframes*3, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("absolute indexes not strictly increasing: %v", got)
		}
	}
}
