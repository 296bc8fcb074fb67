// Package testutil holds helpers shared by fuzz tests.
package testutil

// Stream hands out deterministic values derived from fuzz input. Once the
// input is used up every call returns zero values, so the same input always
// yields the same sequence of operations.
type Stream struct {
	data []byte
	pos  int
}

// NewStream returns a stream over data.
func NewStream(data []byte) *Stream {
	return &Stream{data: data}
}

// Done reports whether the input is used up.
func (s *Stream) Done() bool {
	return s.pos >= len(s.data)
}

// Byte returns the next input byte, or 0.
func (s *Stream) Byte() byte {
	if s.Done() {
		return 0
	}

	b := s.data[s.pos]
	s.pos++

	return b
}

// Intn returns a value in [0, n). It returns 0 when n <= 0.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		return 0
	}

	return int(s.Byte()) % n
}

// Bool returns the low bit of the next byte.
func (s *Stream) Bool() bool {
	return s.Byte()&1 == 1
}

// Payload returns 0 to maxLen printable bytes.
func (s *Stream) Payload(maxLen int) []byte {
	n := s.Intn(maxLen + 1)
	out := make([]byte, n)

	for i := range out {
		out[i] = ' ' + s.Byte()%95
	}

	return out
}
