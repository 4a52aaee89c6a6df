package channel

import "bytes"

// shrinkAbove is the retained capacity past which the partial-line buffer is released after use,
// so one huge reply does not pin its memory for the rest of the session.
const shrinkAbove = 1 << 20

// LineBuffer reassembles an arbitrarily chunked byte stream into newline-terminated lines.
// A single Write may carry no line, one line, several lines, or part of a line; only complete lines
// are emitted and partial trailing bytes are kept for the next Write.
//
// LineBuffer is not safe for concurrent use.
type LineBuffer struct {
	// Emit receives each complete line with its "\n" (and a trailing "\r") removed.
	// The slice is only valid for the duration of the call.
	Emit func(line []byte)

	// MaxLine, if positive, is the longest line accepted. Longer lines are dropped up to the next
	// newline and reported to Overflow with the number of bytes dropped.
	MaxLine  int
	Overflow func(dropped int)

	buf        []byte
	discarding bool
	dropped    int
}

func (b *LineBuffer) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			b.appendPartial(p)
			break
		}
		chunk := p[:i]
		p = p[i+1:]

		if b.discarding {
			b.reportOverflow(b.dropped + len(chunk))
			continue
		}

		line := chunk
		if len(b.buf) > 0 {
			b.buf = append(b.buf, chunk...)
			line = b.buf
		}
		if b.MaxLine > 0 && len(line) > b.MaxLine {
			b.resetBuf()
			b.reportOverflow(len(line))
			continue
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if b.Emit != nil {
			b.Emit(line)
		}
		b.resetBuf()
	}
	return n, nil
}

// Pending returns the number of buffered bytes that do not yet form a complete line.
func (b *LineBuffer) Pending() int {
	if b.discarding {
		return b.dropped
	}
	return len(b.buf)
}

func (b *LineBuffer) appendPartial(p []byte) {
	if b.discarding {
		b.dropped += len(p)
		return
	}
	if b.MaxLine > 0 && len(b.buf)+len(p) > b.MaxLine {
		b.discarding = true
		b.dropped = len(b.buf) + len(p)
		b.resetBuf()
		return
	}
	b.buf = append(b.buf, p...)
}

func (b *LineBuffer) reportOverflow(dropped int) {
	b.discarding = false
	b.dropped = 0
	if b.Overflow != nil {
		b.Overflow(dropped)
	}
}

func (b *LineBuffer) resetBuf() {
	if cap(b.buf) > shrinkAbove {
		b.buf = nil
		return
	}
	b.buf = b.buf[:0]
}
