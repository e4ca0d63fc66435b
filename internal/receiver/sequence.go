package receiver

import "github.com/kelindar/bitmap"

// sequenceTracker watches Data sequence numbers for diagnostics only. It never
// affects what is written.
type sequenceTracker struct {
	seen     bitmap.Bitmap
	expected uint8
	// one past the highest number seen in the current window
	high int
}

func (s *sequenceTracker) reset() {
	s.seen.Clear()
	s.expected = 0
	s.high = 0
}

// observe records seq and reports whether it was the expected successor and
// whether it was already seen in the current window of 256 numbers.
func (s *sequenceTracker) observe(seq uint8) (inOrder bool, duplicate bool) {
	inOrder = seq == s.expected
	duplicate = s.seen.Contains(uint32(seq))

	s.seen.Set(uint32(seq))
	if int(seq)+1 > s.high {
		s.high = int(seq) + 1
	}
	s.expected = seq + 1
	if s.expected == 0 {
		s.seen.Clear()
		s.high = 0
	}
	return inOrder, duplicate
}

// missing counts numbers below the highest one seen that never arrived in the
// current window.
func (s *sequenceTracker) missing() int {
	m := 0
	for i := 0; i < s.high; i++ {
		if !s.seen.Contains(uint32(i)) {
			m++
		}
	}
	return m
}
