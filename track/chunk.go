package track

import (
	"encoding/binary"

	"github.com/Mycrl/Physeter/shared"
	"github.com/cockroachdb/errors"
)

// Chunk is one fixed-size on-disk record. Objects are stored as singly
// linked chains of chunks; Next is the byte offset of the successor (0 for
// none) and NextTrack the track holding it.
type Chunk struct {
	ID        uint32
	Valid     bool
	Next      uint64
	NextTrack uint16
	Data      []byte
}

// Codec encodes and decodes chunk records of a fixed total size.
//
// Layout, all integers big-endian:
//
//	[0:4]   id
//	[4]     valid
//	[5:7]   payload length, 0 meaning a full chunk
//	[7:15]  next offset
//	[15:17] next track
//	[17:]   payload, zero padded to the chunk size
type Codec struct {
	chunkSize   int
	payloadSize int
}

// NewCodec creates a codec for the configured chunk size.
func NewCodec(opts *shared.Options) *Codec {
	return &Codec{
		chunkSize:   int(opts.ChunkSize),
		payloadSize: int(opts.PayloadSize()),
	}
}

// Encode serialises chunk into a buffer of exactly the chunk size. A payload
// that fills the chunk is recorded with the length sentinel 0.
func (c *Codec) Encode(chunk *Chunk) []byte {
	packet := make([]byte, c.chunkSize)

	valid := byte(0)
	if chunk.Valid {
		valid = 1
	}

	size := uint16(len(chunk.Data))
	if len(chunk.Data) == c.payloadSize {
		size = 0
	}

	binary.BigEndian.PutUint32(packet[0:4], chunk.ID)
	packet[4] = valid
	binary.BigEndian.PutUint16(packet[5:7], size)
	binary.BigEndian.PutUint64(packet[7:15], chunk.Next)
	binary.BigEndian.PutUint16(packet[15:17], chunk.NextTrack)
	copy(packet[shared.ChunkHeaderSize:], chunk.Data)

	return packet
}

// Decode parses a full chunk record. The returned payload aliases buf.
func (c *Codec) Decode(buf []byte) (*Chunk, error) {
	if len(buf) < c.chunkSize {
		return nil, errors.Wrapf(shared.ErrCorruption, "chunk record truncated to %d bytes", len(buf))
	}

	size := int(binary.BigEndian.Uint16(buf[5:7]))
	if size == 0 {
		size = c.payloadSize
	}

	if size > c.payloadSize {
		return nil, errors.Wrapf(shared.ErrCorruption, "chunk payload length %d exceeds %d", size, c.payloadSize)
	}

	return &Chunk{
		ID:        binary.BigEndian.Uint32(buf[0:4]),
		Valid:     buf[4] == 1,
		Next:      binary.BigEndian.Uint64(buf[7:15]),
		NextTrack: binary.BigEndian.Uint16(buf[15:17]),
		Data:      buf[shared.ChunkHeaderSize : shared.ChunkHeaderSize+size],
	}, nil
}

// linkOffset is where the linkage region of a chunk record starts.
const linkOffset = 7

// DecodeLink extracts only the successor fields from the 10-byte linkage
// region starting at byte 7 of a record. Free-list walks and deletes use it
// to skip payload decoding entirely.
func DecodeLink(buf []byte) (next uint64, nextTrack uint16) {
	return binary.BigEndian.Uint64(buf[0:8]), binary.BigEndian.Uint16(buf[8:10])
}
