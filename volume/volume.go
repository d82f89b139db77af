// Package volume binds a directory of track files into one logical store
// with streaming read and write access and cross-track delete traversal.
package volume

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Mycrl/Physeter/fs"
	"github.com/Mycrl/Physeter/shared"
	"github.com/Mycrl/Physeter/track"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

const trackSuffix = ".track"

// Volume owns the set of live tracks. It is not internally synchronised;
// callers keep single-writer discipline per volume.
type Volume struct {
	opts   *shared.Options
	tracks map[uint16]*track.Track
}

// Open prepares the directory and opens every track in it. A directory
// that has not seen an index file yet is bootstrapped with track 0.
func Open(opts *shared.Options) (*Volume, error) {
	if err := os.MkdirAll(opts.Directory, 0755); err != nil {
		return nil, errors.Wrapf(err, "volume: create directory %q", opts.Directory)
	}

	v := &Volume{
		opts:   opts,
		tracks: make(map[uint16]*track.Track),
	}

	if !fs.Exists(filepath.Join(opts.Directory, "index")) {
		if err := v.createTrack(0); err != nil {
			return nil, err
		}
	}

	ids, err := scanTracks(opts.Directory)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, ok := v.tracks[id]; ok {
			continue
		}

		if err := v.createTrack(id); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{"directory": opts.Directory, "tracks": len(v.tracks)}).Debug("volume opened")
	return v, nil
}

// scanTracks collects the numeric ids of every *.track file, ascending.
func scanTracks(dir string) ([]uint16, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "volume: read directory %q", dir)
	}

	var ids []uint16
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, trackSuffix) {
			continue
		}

		id, err := strconv.ParseUint(strings.TrimSuffix(name, trackSuffix), 10, 16)
		if err != nil {
			continue
		}

		ids = append(ids, uint16(id))
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (v *Volume) createTrack(id uint16) error {
	t, err := track.Open(id, v.opts)
	if err != nil {
		return err
	}

	v.tracks[id] = t
	return nil
}

func (v *Volume) trackFor(id uint16) (*track.Track, error) {
	t, ok := v.tracks[id]
	if !ok {
		return nil, errors.Newf("volume: no track %d", id)
	}

	return t, nil
}

// Remove frees the whole chain starting at head. Each track frees its local
// segment and either finishes or reports where the chain resumes; the
// volume owns the trampoline.
func (v *Volume) Remove(head shared.Head) error {
	if head.Empty() {
		return nil
	}

	id, offset := head.Track, head.Offset
	for {
		t, err := v.trackFor(id)
		if err != nil {
			log.WithFields(log.Fields{"track": id, "offset": offset}).Warn("delete walk hit unknown track")
			return err
		}

		cont, err := t.Remove(offset)
		if err != nil {
			return err
		}

		if cont == nil {
			return nil
		}

		id, offset = cont.Track, cont.Offset
	}
}

// Close flushes every track header and releases the files.
func (v *Volume) Close() error {
	var firstErr error
	for _, t := range v.tracks {
		if err := t.WriteEnd(); err != nil && firstErr == nil {
			firstErr = err
		}

		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
