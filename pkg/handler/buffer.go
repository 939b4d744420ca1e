package handler

// bufferState is the per-payload-class state machine described by the
// buffered handler engine: Empty -> Filling -> Flushing -> Empty, with
// a retry edge looping Flushing back to itself.
type bufferState int

const (
	stateEmpty bufferState = iota
	stateFilling
	stateFlushing
)

const defaultBlockSize = 4096

// BufferWriter is a block-chunked, append-only byte buffer. It never
// reallocates a growing contiguous array; instead it appends
// fixed-size blocks, so Detach can hand its accumulated bytes to a
// flush without invalidating whatever the writer side is still
// building for the next interval.
type BufferWriter struct {
	blockSize int
	blocks    [][]byte
	cur       []byte
	size      int
}

// NewBufferWriter builds an empty BufferWriter using blockSize-sized
// backing blocks.
func NewBufferWriter(blockSize int) *BufferWriter {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	return &BufferWriter{blockSize: blockSize, cur: make([]byte, 0, blockSize)}
}

// Len returns the number of bytes written since the last Detach.
func (w *BufferWriter) Len() int { return w.size }

// Write appends p, rolling a full block into the completed-blocks list
// whenever the current block reaches blockSize. It always returns
// len(p), nil; BufferWriter never fails a write.
func (w *BufferWriter) Write(p []byte) (int, error) {
	n := len(p)
	w.size += n
	for len(p) > 0 {
		space := w.blockSize - len(w.cur)
		if space <= 0 {
			w.blocks = append(w.blocks, w.cur)
			w.cur = make([]byte, 0, w.blockSize)
			space = w.blockSize
		}
		take := space
		if take > len(p) {
			take = len(p)
		}
		w.cur = append(w.cur, p[:take]...)
		p = p[take:]
	}
	return n, nil
}

// WriteByte appends a single byte.
func (w *BufferWriter) WriteByte(b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

// Detach copies every block plus the in-progress block into one
// contiguous slice and resets the writer to empty, handing ownership
// of the bytes to the caller (the flush scope).
func (w *BufferWriter) Detach() []byte {
	if w.size == 0 {
		return nil
	}
	out := make([]byte, 0, w.size)
	for _, b := range w.blocks {
		out = append(out, b...)
	}
	out = append(out, w.cur...)
	w.blocks = nil
	w.cur = make([]byte, 0, w.blockSize)
	w.size = 0
	return out
}

// splitChunks slices data at the recorded offsets, producing payloads
// each bounded by maxPayloadSize (the offsets are themselves recorded
// at or before that boundary is crossed — see classBuffer.reserve).
func splitChunks(data []byte, offsets []int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, len(offsets)+1)
	start := 0
	for _, off := range offsets {
		if off > start && off <= len(data) {
			chunks = append(chunks, data[start:off])
			start = off
		}
	}
	if start < len(data) {
		chunks = append(chunks, data[start:])
	}
	return chunks
}

// classBuffer is the lock-protected state for a single payload class:
// its buffer, the flush-offset list, and the serialized item count
// used to enforce maxPayloadCount.
type classBuffer struct {
	state      bufferState
	buf        *BufferWriter
	offsets    []int
	chunkStart int
	count      int
}

func newClassBuffer(blockSize int) *classBuffer {
	return &classBuffer{buf: NewBufferWriter(blockSize)}
}

// reserve returns false, recording nothing, if count+1 would exceed
// maxPayloadCount (the caller must then not write the item at all).
// Otherwise it records a split offset if appending itemLen bytes would
// push the current chunk past maxPayloadSize, and returns true.
func (c *classBuffer) reserve(itemLen, maxPayloadSize, maxPayloadCount int) bool {
	if c.count+1 > maxPayloadCount {
		return false
	}
	if c.buf.Len() > c.chunkStart && c.buf.Len()-c.chunkStart+itemLen > maxPayloadSize {
		c.offsets = append(c.offsets, c.buf.Len())
		c.chunkStart = c.buf.Len()
	}
	return true
}

func (c *classBuffer) recordWrite() {
	c.count++
	c.state = stateFilling
}

// detach atomically hands the buffer's bytes and offsets to the
// caller, clears the offset bookkeeping, and moves the class to
// Flushing (the buffer itself is reset by BufferWriter.Detach; the item
// count is reset later by markEmpty).
func (c *classBuffer) detach() (data []byte, offsets []int) {
	data = c.buf.Detach()
	offsets = c.offsets
	c.offsets = nil
	c.chunkStart = 0
	c.state = stateFlushing
	return data, offsets
}

func (c *classBuffer) markEmpty() {
	c.state = stateEmpty
	c.count = 0
}
