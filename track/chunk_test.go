package track

import (
	"bytes"
	"testing"

	"github.com/Mycrl/Physeter/shared"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) *shared.Options {
	t.Helper()

	opts := &shared.Options{
		Directory: t.TempDir(),
		ChunkSize: 64,
		TrackSize: 256,
		MaxMemory: 1 << 20,
	}

	require.NoError(t, opts.Complete())
	return opts
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec(testOptions(t))

	chunk := &Chunk{
		ID:        7,
		Valid:     true,
		Next:      1040,
		NextTrack: 3,
		Data:      []byte("hello track"),
	}

	packet := codec.Encode(chunk)
	require.Len(t, packet, 64)

	decoded, err := codec.Decode(packet)
	require.NoError(t, err)
	require.Equal(t, chunk.ID, decoded.ID)
	require.Equal(t, chunk.Valid, decoded.Valid)
	require.Equal(t, chunk.Next, decoded.Next)
	require.Equal(t, chunk.NextTrack, decoded.NextTrack)
	require.True(t, bytes.Equal(chunk.Data, decoded.Data))
}

func TestCodecFullChunkSentinel(t *testing.T) {
	codec := NewCodec(testOptions(t))

	full := make([]byte, 47)
	for i := range full {
		full[i] = byte(i)
	}

	packet := codec.Encode(&Chunk{Valid: true, Data: full})

	// A payload that fills the chunk is recorded with length zero.
	require.Equal(t, byte(0), packet[5])
	require.Equal(t, byte(0), packet[6])

	decoded, err := codec.Decode(packet)
	require.NoError(t, err)
	require.Equal(t, full, decoded.Data)
}

func TestCodecLazyLink(t *testing.T) {
	codec := NewCodec(testOptions(t))

	packet := codec.Encode(&Chunk{ID: 1, Valid: true, Next: 4096, NextTrack: 9, Data: []byte("x")})

	next, nextTrack := DecodeLink(packet[linkOffset : linkOffset+10])
	require.Equal(t, uint64(4096), next)
	require.Equal(t, uint16(9), nextTrack)
}

func TestCodecDecodeTruncated(t *testing.T) {
	codec := NewCodec(testOptions(t))

	_, err := codec.Decode(make([]byte, 20))
	require.True(t, errors.Is(err, shared.ErrCorruption))
}

func TestCodecDecodeOversizePayloadLength(t *testing.T) {
	codec := NewCodec(testOptions(t))

	packet := codec.Encode(&Chunk{Valid: true, Data: []byte("y")})
	packet[5] = 0xff
	packet[6] = 0xff

	_, err := codec.Decode(packet)
	require.True(t, errors.Is(err, shared.ErrCorruption))
}
