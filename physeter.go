// Package physeter is an object-storage engine for opaque blobs packed into
// a small number of large track files, bypassing the host filesystem's
// per-object metadata paths. Objects are flat-named byte streams; their
// chunks are chained across tracks and resolved through an append-only name
// index.
package physeter

import (
	"io"
	"sync"

	"github.com/Mycrl/Physeter/index"
	"github.com/Mycrl/Physeter/shared"
	"github.com/Mycrl/Physeter/volume"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// Taxonomy re-exports. Everything else surfacing from kernel operations is
// an I/O failure.
var (
	ErrNotFound      = shared.ErrNotFound
	ErrAlreadyExists = shared.ErrAlreadyExists
	ErrCorruption    = shared.ErrCorruption
)

// Options configures a kernel. See shared.Options for the fields.
type Options = shared.Options

// Kernel binds one volume and its name index behind the three public
// operations. A mutex serialises them: the volume expects single-writer,
// single-reader discipline.
type Kernel struct {
	lock   sync.Mutex
	opts   *shared.Options
	volume *volume.Volume
	index  *index.Index
}

// Open validates opts and brings up the volume and index rooted at the
// configured directory.
func Open(opts *Options) (*Kernel, error) {
	if err := opts.Complete(); err != nil {
		return nil, err
	}

	log.WithField("directory", opts.Directory).Info("opening store")

	v, err := volume.Open(opts)
	if err != nil {
		return nil, err
	}

	i, err := index.Open(opts)
	if err != nil {
		v.Close()
		return nil, err
	}

	return &Kernel{
		opts:   opts,
		volume: v,
		index:  i,
	}, nil
}

// Write streams source into the store under name. The name must not exist
// yet; a source failure aborts the stream without indexing anything, so
// nothing half-written ever resolves.
func (k *Kernel) Write(name string, source io.Reader) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	if _, err := k.index.Get(name); err == nil {
		return errors.Wrapf(shared.ErrAlreadyExists, "write %q", name)
	} else if !errors.Is(err, shared.ErrNotFound) {
		return err
	}

	writer := k.volume.NewWriter()
	buf := make([]byte, 32*1024)

	for {
		n, err := source.Read(buf)
		if n > 0 {
			if werr := writer.Push(buf[:n]); werr != nil {
				writer.Abort()
				return werr
			}
		}

		if err == io.EOF {
			break
		}

		if err != nil {
			writer.Abort()
			return errors.Wrapf(err, "write %q: source", name)
		}
	}

	head, err := writer.Finish()
	if err != nil {
		return err
	}

	entry := index.Entry{Chunk: head}
	if err := k.index.Set(name, entry); err != nil {
		return err
	}

	return nil
}

// Read resolves name and streams the object into sink.
func (k *Kernel) Read(name string, sink io.Writer) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	entry, err := k.index.Get(name)
	if err != nil {
		return err
	}

	reader := k.volume.NewReader(entry.Chunk)
	if _, err := reader.WriteTo(sink); err != nil {
		return err
	}

	return nil
}

// Delete frees the object's chain and drops its index entry. Deleting a
// missing name reports ErrNotFound.
func (k *Kernel) Delete(name string) error {
	k.lock.Lock()
	defer k.lock.Unlock()

	entry, err := k.index.Get(name)
	if err != nil {
		return err
	}

	if err := k.volume.Remove(entry.Chunk); err != nil {
		return err
	}

	return k.index.Remove(name)
}

// Close shuts the index worker down and flushes every track header.
func (k *Kernel) Close() error {
	k.lock.Lock()
	defer k.lock.Unlock()

	err := k.index.Close()
	if verr := k.volume.Close(); err == nil {
		err = verr
	}

	return err
}
