// Package index maps object names to chain heads through an append-only
// file of fixed-size records. The file is an unordered log: the last record
// for a key wins, earlier ones are shadowed until a compaction pass removes
// them. A hot in-memory cache holds the winning entry per key.
package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"path/filepath"
	"sync"
	"time"

	"github.com/Mycrl/Physeter/fs"
	"github.com/Mycrl/Physeter/index/filter"
	"github.com/Mycrl/Physeter/shared"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// RecordSize is the fixed on-disk record length: magic (2) + key (32) +
	// meta track (2) + meta offset (8) + chunk track (2) + chunk offset (8).
	RecordSize = 54

	recordMagic uint16 = 0x9900

	falsePositiveRate = 0.01
)

// Entry holds the two chain heads recorded for a name: the metadata chain
// (reserved, unused by the core) and the payload chain.
type Entry struct {
	Meta  shared.Head
	Chunk shared.Head
}

// cacheEntry carries the eviction substrate alongside the heads. cycle and
// hits are maintained on every touch so a future LRU/LFU policy bounded by
// MaxMemory has something to work from.
type cacheEntry struct {
	cycle      int64
	hits       uint64
	fileOffset uint64
	entry      Entry
}

type setRequest struct {
	key    string
	digest [sha256.Size]byte
	entry  Entry
	reply  chan error
}

// Index is the name index over one volume directory.
type Index struct {
	file *fs.Fs
	size uint64

	mu     sync.Mutex
	cache  map[string]*cacheEntry
	seen   map[uint64]struct{}
	filter *filter.Filter

	maxMemory uint64

	// Mutations run on a single worker owning the append path, fed one
	// request at a time, so the size/append/cache triple stays atomic
	// against other writers.
	queue chan setRequest
	done  chan struct{}
}

// Open opens or creates the index file, loads every decodable record into
// the cache (last record per key wins) and starts the mutation worker.
func Open(opts *shared.Options) (*Index, error) {
	file, err := fs.Open(filepath.Join(opts.Directory, "index"))
	if err != nil {
		return nil, err
	}

	size, err := file.Size()
	if err != nil {
		file.Close()
		return nil, err
	}

	i := &Index{
		file:      file,
		size:      size,
		cache:     make(map[string]*cacheEntry),
		seen:      make(map[uint64]struct{}),
		filter:    filter.New(int(size/RecordSize)+1024, falsePositiveRate),
		maxMemory: opts.MaxMemory,
		queue:     make(chan setRequest),
		done:      make(chan struct{}),
	}

	if err := i.load(); err != nil {
		file.Close()
		return nil, err
	}

	go i.worker()
	return i, nil
}

// load scans the file record by record. Records with the right length but
// a bad magic are corruption: skipped, never fatal. A trailing partial
// record is ignored.
func (i *Index) load() error {
	buf := make([]byte, RecordSize)
	now := time.Now().Unix()

	for offset := uint64(0); offset+RecordSize <= i.size; offset += RecordSize {
		n, err := i.file.Read(buf, offset)
		if err != nil {
			return err
		}

		if n < RecordSize {
			break
		}

		key, entry, err := decodeRecord(buf)
		if err != nil {
			log.WithField("offset", offset).Warn("skipping corrupted index record")
			continue
		}

		i.cache[key] = &cacheEntry{
			cycle:      now,
			fileOffset: offset,
			entry:      entry,
		}

		i.seen[offset] = struct{}{}

		var digest [sha256.Size]byte
		copy(digest[:], buf[2:34])
		i.filter.Add(digest)
	}

	return nil
}

func hashName(name string) (string, [sha256.Size]byte) {
	digest := sha256.Sum256([]byte(name))
	return hex.EncodeToString(digest[:]), digest
}

func encodeRecord(digest [sha256.Size]byte, entry Entry) []byte {
	buf := make([]byte, RecordSize)
	binary.BigEndian.PutUint16(buf[0:2], recordMagic)
	copy(buf[2:34], digest[:])
	binary.BigEndian.PutUint16(buf[34:36], entry.Meta.Track)
	binary.BigEndian.PutUint64(buf[36:44], entry.Meta.Offset)
	binary.BigEndian.PutUint16(buf[44:46], entry.Chunk.Track)
	binary.BigEndian.PutUint64(buf[46:54], entry.Chunk.Offset)
	return buf
}

func decodeRecord(buf []byte) (string, Entry, error) {
	if len(buf) < RecordSize {
		return "", Entry{}, errors.Wrapf(shared.ErrCorruption, "index record truncated to %d bytes", len(buf))
	}

	if binary.BigEndian.Uint16(buf[0:2]) != recordMagic {
		return "", Entry{}, errors.Wrap(shared.ErrCorruption, "index record magic mismatch")
	}

	entry := Entry{
		Meta: shared.Head{
			Track:  binary.BigEndian.Uint16(buf[34:36]),
			Offset: binary.BigEndian.Uint64(buf[36:44]),
		},
		Chunk: shared.Head{
			Track:  binary.BigEndian.Uint16(buf[44:46]),
			Offset: binary.BigEndian.Uint64(buf[46:54]),
		},
	}

	return hex.EncodeToString(buf[2:34]), entry, nil
}

// Get resolves name to its heads. A cache hit bumps the cycle timestamp and
// hit count; a miss falls back to scanning the file for records not yet
// seen, honouring last-write semantics by reading to the end.
func (i *Index) Get(name string) (*Entry, error) {
	key, digest := hashName(name)

	i.mu.Lock()
	if ce, ok := i.cache[key]; ok {
		ce.cycle = time.Now().Unix()
		ce.hits++
		entry := ce.entry
		i.mu.Unlock()
		return &entry, nil
	}

	// Records appended out of band are only visible through a scan, so
	// pick up any file growth first. When nothing grew, the filter is
	// complete over every record ever loaded, scanned or appended here
	// and a negative answer makes the scan pointless.
	size, err := i.file.Size()
	if err != nil {
		i.mu.Unlock()
		return nil, err
	}

	if size > i.size {
		i.size = size
	} else if !i.filter.Contains(digest) {
		i.mu.Unlock()
		return nil, errors.Wrapf(shared.ErrNotFound, "index: %q", name)
	}

	entry, offset, found, err := i.scan(key)
	if err != nil {
		i.mu.Unlock()
		return nil, err
	}

	if !found {
		i.mu.Unlock()
		return nil, errors.Wrapf(shared.ErrNotFound, "index: %q", name)
	}

	i.cache[key] = &cacheEntry{
		cycle:      time.Now().Unix(),
		hits:       1,
		fileOffset: offset,
		entry:      entry,
	}

	i.seen[offset] = struct{}{}
	i.mu.Unlock()
	return &entry, nil
}

// scan walks the whole file skipping offsets already considered, keeping
// the last record that matches key. Every decoded record's digest goes
// into the filter, so records picked up from file growth stay visible to
// later lookups. Called with the lock held.
func (i *Index) scan(key string) (Entry, uint64, bool, error) {
	buf := make([]byte, RecordSize)

	var entry Entry
	var entryOffset uint64
	found := false

	for offset := uint64(0); offset+RecordSize <= i.size; offset += RecordSize {
		if _, ok := i.seen[offset]; ok {
			continue
		}

		n, err := i.file.Read(buf, offset)
		if err != nil {
			return Entry{}, 0, false, err
		}

		if n < RecordSize {
			break
		}

		recordKey, decoded, err := decodeRecord(buf)
		if err != nil {
			continue
		}

		var digest [sha256.Size]byte
		copy(digest[:], buf[2:34])
		i.filter.Add(digest)

		if recordKey == key {
			entry = decoded
			entryOffset = offset
			found = true
		}
	}

	return entry, entryOffset, found, nil
}

// Set records name -> entry. Duplicate names are refused while the name is
// cached; the record is appended and the cache updated atomically with
// respect to other mutations.
func (i *Index) Set(name string, entry Entry) error {
	key, digest := hashName(name)
	req := setRequest{
		key:    key,
		digest: digest,
		entry:  entry,
		reply:  make(chan error, 1),
	}

	i.queue <- req
	return <-req.reply
}

func (i *Index) worker() {
	defer close(i.done)

	for req := range i.queue {
		req.reply <- i.apply(req)
	}
}

func (i *Index) apply(req setRequest) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.cache[req.key]; ok {
		return errors.Wrapf(shared.ErrAlreadyExists, "index: duplicate key")
	}

	if err := i.file.Append(encodeRecord(req.digest, req.entry)); err != nil {
		return err
	}

	offset := i.size
	i.cache[req.key] = &cacheEntry{
		cycle:      time.Now().Unix(),
		fileOffset: offset,
		entry:      req.entry,
	}

	i.seen[offset] = struct{}{}
	i.size += RecordSize
	i.filter.Add(req.digest)

	// TODO: evict cold entries once the cache footprint passes maxMemory;
	// cycle and hits already track what an LRU/LFU policy needs.
	return nil
}

// Remove drops the cached entry for name. The file record remains as a
// tombstone candidate for compaction; the seen set keeps the scan path
// from resurrecting it.
func (i *Index) Remove(name string) error {
	key, _ := hashName(name)

	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.cache[key]; !ok {
		return errors.Wrapf(shared.ErrNotFound, "index: %q", name)
	}

	delete(i.cache, key)
	return nil
}

// Close stops the mutation worker and releases the file.
func (i *Index) Close() error {
	close(i.queue)
	<-i.done
	return i.file.Close()
}
