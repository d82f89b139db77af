package index

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
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

func TestIndexSetGet(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	entry := Entry{Chunk: shared.Head{Track: 2, Offset: 1040}}
	require.NoError(t, idx.Set("a", entry))

	got, err := idx.Get("a")
	require.NoError(t, err)
	require.Equal(t, entry, *got)
}

func TestIndexGetMissing(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Get("nope")
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestIndexDuplicateSet(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	entry := Entry{Chunk: shared.Head{Offset: 16}}
	require.NoError(t, idx.Set("a", entry))

	err = idx.Set("a", Entry{Chunk: shared.Head{Offset: 80}})
	require.True(t, errors.Is(err, shared.ErrAlreadyExists))
}

func TestIndexRemove(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Set("a", Entry{Chunk: shared.Head{Offset: 16}}))
	require.NoError(t, idx.Remove("a"))

	_, err = idx.Get("a")
	require.True(t, errors.Is(err, shared.ErrNotFound))

	err = idx.Remove("a")
	require.True(t, errors.Is(err, shared.ErrNotFound))

	// The file record stays behind as a tombstone candidate, and the
	// name can be indexed again.
	require.NoError(t, idx.Set("a", Entry{Chunk: shared.Head{Offset: 80}}))
}

func TestIndexSurvivesReopen(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)

	entry := Entry{Chunk: shared.Head{Track: 1, Offset: 208}}
	require.NoError(t, idx.Set("a", entry))
	require.NoError(t, idx.Close())

	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("a")
	require.NoError(t, err)
	require.Equal(t, entry, *got)
}

// appendRecord writes a raw index record straight to the file, bypassing
// the index, the way an out-of-band writer would.
func appendRecord(t *testing.T, opts *shared.Options, name string, entry Entry) {
	t.Helper()

	digest := sha256.Sum256([]byte(name))
	buf := make([]byte, RecordSize)
	binary.BigEndian.PutUint16(buf[0:2], 0x9900)
	copy(buf[2:34], digest[:])
	binary.BigEndian.PutUint16(buf[34:36], entry.Meta.Track)
	binary.BigEndian.PutUint64(buf[36:44], entry.Meta.Offset)
	binary.BigEndian.PutUint16(buf[44:46], entry.Chunk.Track)
	binary.BigEndian.PutUint64(buf[46:54], entry.Chunk.Offset)

	file, err := os.OpenFile(filepath.Join(opts.Directory, "index"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = file.Write(buf)
	require.NoError(t, err)
	require.NoError(t, file.Close())
}

func TestIndexLastWriterWinsOnScan(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)

	require.NoError(t, idx.Set("a", Entry{Chunk: shared.Head{Track: 0, Offset: 16}}))
	require.NoError(t, idx.Close())

	shadow := Entry{Chunk: shared.Head{Track: 3, Offset: 1040}}
	appendRecord(t, opts, "a", shadow)

	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("a")
	require.NoError(t, err)
	require.Equal(t, shadow, *got)
}

func TestIndexSeesOutOfBandAppends(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	_, err = idx.Get("c")
	require.True(t, errors.Is(err, shared.ErrNotFound))

	entry := Entry{Chunk: shared.Head{Track: 1, Offset: 80}}
	appendRecord(t, opts, "c", entry)

	got, err := idx.Get("c")
	require.NoError(t, err)
	require.Equal(t, entry, *got)
}

func TestIndexSkipsCorruptedRecords(t *testing.T) {
	opts := testOptions(t)

	// A record with the right length but a bad magic, followed by a
	// good one.
	file, err := os.OpenFile(filepath.Join(opts.Directory, "index"), os.O_WRONLY|os.O_CREATE, 0644)
	require.NoError(t, err)
	_, err = file.Write(make([]byte, RecordSize))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	appendRecord(t, opts, "b", Entry{Chunk: shared.Head{Offset: 80}})

	idx, err := Open(opts)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Get("b")
	require.NoError(t, err)
	require.Equal(t, uint64(80), got.Chunk.Offset)
}

func TestIndexTrailingPartialRecordIgnored(t *testing.T) {
	opts := testOptions(t)

	idx, err := Open(opts)
	require.NoError(t, err)
	require.NoError(t, idx.Set("a", Entry{Chunk: shared.Head{Offset: 16}}))
	require.NoError(t, idx.Close())

	file, err := os.OpenFile(filepath.Join(opts.Directory, "index"), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = file.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	reopened, err := Open(opts)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("a")
	require.NoError(t, err)
	require.Equal(t, uint64(16), got.Chunk.Offset)
}
