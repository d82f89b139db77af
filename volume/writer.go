package volume

import (
	"github.com/Mycrl/Physeter/shared"
	"github.com/Mycrl/Physeter/track"
	"github.com/cockroachdb/errors"
)

// staged holds the chunk waiting for its successor. Chain links point
// forward, so a chunk can only be written once the next allocation is
// known (or the stream closes and the link stays zero).
type staged struct {
	id        uint32
	track     uint16
	offset    uint64
	next      uint64
	nextTrack uint16
	data      []byte
}

// Writer accumulates pushed bytes, cuts them into full payloads and writes
// them as a linked chain, spilling onto the next track when the current one
// reaches its soft cap.
type Writer struct {
	volume      *Volume
	payloadSize int

	buffer      []byte
	previous    *staged
	writeSet    map[uint16]struct{}
	firstTrack  uint16
	firstOffset uint64
	nextID      uint32
	track       uint16
	closed      bool
}

// NewWriter opens a write stream. The stream borrows the volume until
// Finish or Abort.
func (v *Volume) NewWriter() *Writer {
	return &Writer{
		volume:      v,
		payloadSize: int(v.opts.PayloadSize()),
		writeSet:    make(map[uint16]struct{}),
	}
}

// Push appends data to the stream. Full payloads drain to disk right away;
// the residue stays buffered until more bytes arrive or the stream closes.
func (w *Writer) Push(data []byte) error {
	if w.closed {
		return errors.New("volume: push on closed writer")
	}

	w.buffer = append(w.buffer, data...)
	for len(w.buffer) >= w.payloadSize {
		if err := w.writeChunk(w.buffer[:w.payloadSize]); err != nil {
			return err
		}

		w.buffer = w.buffer[w.payloadSize:]
	}

	return nil
}

// ensureTrack positions the cursor on a track that can take one more
// chunk, creating the track when it does not exist yet.
func (w *Writer) ensureTrack() error {
	for {
		t, ok := w.volume.tracks[w.track]
		if !ok {
			return w.volume.createTrack(w.track)
		}

		if t.Size()+w.volume.opts.ChunkSize > w.volume.opts.TrackSize {
			w.track++
			continue
		}

		return nil
	}
}

// writeChunk allocates a slot for data, writes the chunk staged before it
// (now that its forward link is known) and stages this one.
func (w *Writer) writeChunk(data []byte) error {
	if err := w.ensureTrack(); err != nil {
		return err
	}

	w.writeSet[w.track] = struct{}{}

	t, err := w.volume.trackFor(w.track)
	if err != nil {
		return err
	}

	offset, err := t.Alloc()
	if err != nil {
		return err
	}

	if w.previous == nil {
		w.firstTrack = w.track
		w.firstOffset = offset
	} else {
		w.previous.next = offset
		w.previous.nextTrack = w.track
		if err := w.flushStaged(); err != nil {
			return err
		}
	}

	// The buffer is rebased under this slice, so the payload is copied.
	payload := make([]byte, len(data))
	copy(payload, data)

	w.previous = &staged{
		id:     w.nextID,
		track:  w.track,
		offset: offset,
		data:   payload,
	}

	w.nextID++
	return nil
}

func (w *Writer) flushStaged() error {
	t, err := w.volume.trackFor(w.previous.track)
	if err != nil {
		return err
	}

	chunk := &track.Chunk{
		ID:        w.previous.id,
		Valid:     true,
		Next:      w.previous.next,
		NextTrack: w.previous.nextTrack,
		Data:      w.previous.data,
	}

	return t.Write(chunk, w.previous.offset)
}

// Finish writes the residual payload and the staged terminal chunk, flushes
// every touched track header and returns the chain head for the index. An
// object whose stream carried no bytes at all gets the empty head.
func (w *Writer) Finish() (shared.Head, error) {
	if w.closed {
		return shared.Head{}, errors.New("volume: finish on closed writer")
	}

	w.closed = true

	if len(w.buffer) > 0 {
		if err := w.writeChunk(w.buffer); err != nil {
			return shared.Head{}, err
		}

		w.buffer = nil
	}

	if w.previous != nil {
		if err := w.flushStaged(); err != nil {
			return shared.Head{}, err
		}
	}

	if err := w.writeEnd(); err != nil {
		return shared.Head{}, err
	}

	if w.nextID == 0 {
		return shared.Head{}, nil
	}

	return shared.Head{Track: w.firstTrack, Offset: w.firstOffset}, nil
}

// Abort closes the stream without indexing anything. Chunks already written
// stay valid but unreferenced until a compaction pass; flushing the touched
// track headers bounds the leak to this half-object.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}

	w.closed = true
	w.buffer = nil

	// The staged chunk's slot is already allocated and the chunk before
	// it already links to it, so it is written out as a terminal record.
	// The leak is then a real chain a compaction pass can walk.
	if w.previous != nil {
		if err := w.flushStaged(); err != nil {
			return err
		}

		w.previous = nil
	}

	return w.writeEnd()
}

func (w *Writer) writeEnd() error {
	for id := range w.writeSet {
		t, err := w.volume.trackFor(id)
		if err != nil {
			return err
		}

		if err := t.WriteEnd(); err != nil {
			return err
		}
	}

	return nil
}
