package peer

import "encoding/json"

// candidateBuffer holds remote ICE candidates that arrive before the remote
// description is applied. Candidates drain in arrival order, exactly once;
// anything arriving after the drain is applied directly.
type candidateBuffer struct {
	pending []json.RawMessage
	drained bool
}

// Add buffers a candidate and reports true, or reports false once the buffer
// has drained and candidates should be applied directly.
func (b *candidateBuffer) Add(candidate json.RawMessage) bool {
	if b.drained {
		return false
	}
	b.pending = append(b.pending, candidate)
	return true
}

// Drain returns the buffered candidates in arrival order and marks the buffer
// drained. A second drain returns nothing.
func (b *candidateBuffer) Drain() []json.RawMessage {
	if b.drained {
		return nil
	}
	b.drained = true
	out := b.pending
	b.pending = nil
	return out
}

// Reset rearms the buffer for a fresh transport session.
func (b *candidateBuffer) Reset() {
	b.pending = nil
	b.drained = false
}

func (b *candidateBuffer) Len() int { return len(b.pending) }
