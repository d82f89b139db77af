// Package track implements the fixed-size chunk container backing a volume.
// One track owns one physical file: a 16-byte header holding the free-list
// head and tail offsets, followed by a dense array of chunk records.
package track

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/Mycrl/Physeter/fs"
	"github.com/Mycrl/Physeter/shared"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// Continuation tells the volume where a delete walk left the current track.
type Continuation struct {
	Track  uint16
	Offset uint64
}

// Track is one physical backing file. Freed chunks are threaded into a
// singly linked list through their next-offset field; the list head is
// popped on allocation and freed chains are spliced in at the tail.
type Track struct {
	ID    uint16
	opts  *shared.Options
	codec *Codec
	file  *fs.Fs

	freeHead uint64
	freeTail uint64

	// size counts live bytes (header included) and is what the soft track
	// cap is enforced against; realSize is the physical append cursor.
	// They diverge once chunks are freed.
	size     uint64
	realSize uint64
}

// Open opens or creates the backing file <id>.track under the configured
// directory and restores the free-list state from its header.
func Open(id uint16, opts *shared.Options) (*Track, error) {
	path := filepath.Join(opts.Directory, fmt.Sprintf("%d.track", id))
	file, err := fs.Open(path)
	if err != nil {
		return nil, err
	}

	t := &Track{
		ID:    id,
		opts:  opts,
		codec: NewCodec(opts),
		file:  file,
	}

	if err := t.readHeader(); err != nil {
		file.Close()
		return nil, err
	}

	return t, nil
}

func (t *Track) readHeader() error {
	size, err := t.file.Size()
	if err != nil {
		return err
	}

	// An empty file gets a zeroed header: no freed chunks yet.
	if size == 0 {
		if err := t.writeHeader(); err != nil {
			return err
		}

		t.size = shared.TrackHeaderSize
		t.realSize = shared.TrackHeaderSize
		return nil
	}

	header := make([]byte, shared.TrackHeaderSize)
	n, err := t.file.Read(header, 0)
	if err != nil {
		return err
	}

	if n < shared.TrackHeaderSize {
		return errors.Wrapf(shared.ErrCorruption, "track %d: header truncated to %d bytes", t.ID, n)
	}

	t.freeHead = binary.BigEndian.Uint64(header[0:8])
	t.freeTail = binary.BigEndian.Uint64(header[8:16])
	t.size = size
	t.realSize = size
	return nil
}

func (t *Track) writeHeader() error {
	header := make([]byte, shared.TrackHeaderSize)
	binary.BigEndian.PutUint64(header[0:8], t.freeHead)
	binary.BigEndian.PutUint64(header[8:16], t.freeTail)
	return t.file.Write(header, 0)
}

// Size returns the live-bytes cursor the volume checks the soft cap
// against. Freed chunks are not counted, so a track with reusable holes
// keeps accepting writes.
func (t *Track) Size() uint64 {
	return t.size
}

// Alloc reserves the offset for the next chunk without writing anything.
// A freed chunk is popped from the free-list head when one exists;
// otherwise the slot is reserved at the physical end of the file. The
// cursors advance here so that chunks staged but not yet written cannot be
// handed out twice.
func (t *Track) Alloc() (uint64, error) {
	if t.freeHead == 0 {
		offset := t.realSize
		t.realSize += t.opts.ChunkSize
		t.size += t.opts.ChunkSize
		return offset, nil
	}

	link := make([]byte, 10)
	n, err := t.file.Read(link, t.freeHead+linkOffset)
	if err != nil {
		return 0, err
	}

	if n < len(link) {
		return 0, errors.Wrapf(shared.ErrCorruption, "track %d: free chunk at %d truncated", t.ID, t.freeHead)
	}

	offset := t.freeHead
	next, _ := DecodeLink(link)

	t.freeHead = next
	if t.freeHead == 0 {
		t.freeTail = 0
	}

	t.size += t.opts.ChunkSize
	return offset, nil
}

// Write encodes chunk at offset. The offset must come from Alloc, which
// already accounted for it.
func (t *Track) Write(chunk *Chunk, offset uint64) error {
	return t.file.Write(t.codec.Encode(chunk), offset)
}

// Read fully decodes the chunk record at offset.
func (t *Track) Read(offset uint64) (*Chunk, error) {
	buf := make([]byte, t.opts.ChunkSize)
	n, err := t.file.Read(buf, offset)
	if err != nil {
		return nil, err
	}

	chunk, err := t.codec.Decode(buf[:n])
	if err != nil {
		log.WithFields(log.Fields{"track": t.ID, "offset": offset}).Warn("unreadable chunk record")
		return nil, err
	}

	return chunk, nil
}

// Remove walks the live chain starting at headOffset, marking every chunk
// on this track invalid and threading it onto the free list. The freed
// chain keeps its own next links, so the free list only needs the head
// initialised or the old tail spliced once. When the chain jumps to another
// track the local segment is terminated and the continuation returned for
// the volume to resume; a nil continuation means the chain ended here.
func (t *Track) Remove(headOffset uint64) (*Continuation, error) {
	maxOffset := t.opts.MaxChunkOffset()
	buf := make([]byte, t.opts.ChunkSize)
	offset := headOffset
	first := true

	for {
		if offset >= maxOffset {
			return nil, nil
		}

		n, err := t.file.Read(buf, offset)
		if err != nil {
			return nil, err
		}

		if n == 0 {
			return nil, nil
		}

		if n < shared.ChunkHeaderSize {
			log.WithFields(log.Fields{"track": t.ID, "offset": offset}).Warn("truncated chunk record in delete walk")
			return nil, errors.Wrapf(shared.ErrCorruption, "track %d: chunk at %d truncated", t.ID, offset)
		}

		t.size -= t.opts.ChunkSize

		if err := t.file.Write([]byte{0}, offset+4); err != nil {
			return nil, err
		}

		next, nextTrack := DecodeLink(buf[linkOffset : linkOffset+10])

		if t.freeHead == 0 {
			// Empty free list adopts the chunk as both ends at once.
			t.freeHead = offset
			t.freeTail = offset
			if err := t.writeHeader(); err != nil {
				return nil, err
			}
		} else if first {
			var spliced [8]byte
			binary.BigEndian.PutUint64(spliced[:], offset)
			if err := t.file.Write(spliced[:], t.freeTail+linkOffset); err != nil {
				return nil, err
			}
		}

		if next == 0 {
			t.freeTail = offset
			return nil, t.writeHeader()
		}

		if nextTrack != t.ID {
			// The chain escapes this track. Terminate the local free
			// segment so the list still ends at a zero next pointer,
			// then hand the continuation back to the volume.
			var zero [8]byte
			if err := t.file.Write(zero[:], offset+linkOffset); err != nil {
				return nil, err
			}

			t.freeTail = offset
			if err := t.writeHeader(); err != nil {
				return nil, err
			}

			return &Continuation{Track: nextTrack, Offset: next}, nil
		}

		offset = next
		first = false
	}
}

// WriteEnd persists the in-memory free-list state and syncs the file. The
// volume calls it once per touched track when a write stream closes.
func (t *Track) WriteEnd() error {
	if err := t.writeHeader(); err != nil {
		return err
	}

	return t.file.Sync()
}

// Close releases the backing file. WriteEnd must have run since the last
// mutation for the header to survive.
func (t *Track) Close() error {
	return t.file.Close()
}
