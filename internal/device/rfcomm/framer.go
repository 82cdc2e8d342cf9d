package rfcomm

import "bytes"

// DefaultMaxFrame bounds a single line. Longer runs without a terminator are
// emitted as they are.
const DefaultMaxFrame = 512

// lineFramer splits a serial byte stream into newline-terminated frames. A
// trailing '\r' is stripped and empty lines are skipped.
type lineFramer struct {
	pending  []byte
	maxFrame int
}

func newLineFramer(maxFrame int) *lineFramer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &lineFramer{maxFrame: maxFrame}
}

// Feed consumes a chunk and returns the frames it completed. Returned frames do
// not alias the framer's buffer.
func (f *lineFramer) Feed(chunk []byte) [][]byte {
	var frames [][]byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.pending = append(f.pending, chunk...)
			if len(f.pending) >= f.maxFrame {
				frames = f.emit(frames)
			}
			return frames
		}
		f.pending = append(f.pending, chunk[:i]...)
		chunk = chunk[i+1:]
		frames = f.emit(frames)
	}
	return frames
}

func (f *lineFramer) emit(frames [][]byte) [][]byte {
	line := bytes.TrimSuffix(f.pending, []byte{'\r'})
	if len(line) > 0 {
		frames = append(frames, bytes.Clone(line))
	}
	f.pending = f.pending[:0]
	return frames
}

// Reset drops any partial frame.
func (f *lineFramer) Reset() {
	f.pending = f.pending[:0]
}
