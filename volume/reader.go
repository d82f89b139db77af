package volume

import (
	"io"

	"github.com/Mycrl/Physeter/shared"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// Reader pulls one object's payload chunk by chunk, following the chain
// across track boundaries. The cursor lives inside the reader; the volume
// is borrowed for the duration of the read.
type Reader struct {
	volume *Volume
	track  uint16
	offset uint64
	done   bool
}

// NewReader opens a read stream at the chain head recorded in the index.
func (v *Volume) NewReader(head shared.Head) *Reader {
	return &Reader{
		volume: v,
		track:  head.Track,
		offset: head.Offset,
		done:   head.Empty(),
	}
}

// Next returns the payload of the chunk under the cursor and advances to
// its successor. The terminal chunk still yields its payload once; the
// call after it reports io.EOF.
func (r *Reader) Next() ([]byte, error) {
	if r.done {
		return nil, io.EOF
	}

	t, err := r.volume.trackFor(r.track)
	if err != nil {
		return nil, err
	}

	chunk, err := t.Read(r.offset)
	if err != nil {
		return nil, err
	}

	if !chunk.Valid {
		log.WithFields(log.Fields{"track": r.track, "offset": r.offset}).Warn("read walked onto a freed chunk")
		return nil, errors.Wrapf(shared.ErrCorruption, "track %d: chunk at %d is freed", r.track, r.offset)
	}

	if chunk.Next == 0 {
		r.done = true
	} else {
		r.track = chunk.NextTrack
		r.offset = chunk.Next
	}

	return chunk.Data, nil
}

// WriteTo drains the stream into w.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for {
		data, err := r.Next()
		if err == io.EOF {
			return total, nil
		}

		if err != nil {
			return total, err
		}

		n, err := w.Write(data)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
}
