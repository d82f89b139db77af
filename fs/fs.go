// Package fs wraps a single on-disk file behind the positional read/write
// contract the storage layers rely on: reads may come back short, writes
// always complete fully.
package fs

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// Fs exclusively owns one open file descriptor for its lifetime.
type Fs struct {
	file *os.File
	path string
}

// Open opens the file at path for reading and writing, creating it if it
// does not exist.
func Open(path string) (*Fs, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "fs: open %q", path)
	}

	return &Fs{file: file, path: path}, nil
}

// Read fills buf from offset with a single positional read. The returned
// count may be shorter than buf; zero means end of file.
func (f *Fs) Read(buf []byte, offset uint64) (int, error) {
	n, err := f.file.ReadAt(buf, int64(offset))
	if err == io.EOF {
		return n, nil
	}

	if err != nil {
		return n, errors.Wrapf(err, "fs: read %q at %d", f.path, offset)
	}

	return n, nil
}

// Write puts buf at offset and completes fully: the track and index layers
// treat every write as a transactional unit over a fixed region, so a short
// write is never surfaced, only a device error.
func (f *Fs) Write(buf []byte, offset uint64) error {
	for len(buf) > 0 {
		n, err := f.file.WriteAt(buf, int64(offset))
		if err != nil {
			return errors.Wrapf(err, "fs: write %q at %d", f.path, offset)
		}

		buf = buf[n:]
		offset += uint64(n)
	}

	return nil
}

// Append atomically extends the file with buf.
func (f *Fs) Append(buf []byte) error {
	offset, err := f.file.Seek(0, io.SeekEnd)
	if err != nil {
		return errors.Wrapf(err, "fs: seek end %q", f.path)
	}

	return f.Write(buf, uint64(offset))
}

// Size returns the current file length in bytes.
func (f *Fs) Size() (uint64, error) {
	stat, err := f.file.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "fs: stat %q", f.path)
	}

	return uint64(stat.Size()), nil
}

// Sync flushes buffered state to the device.
func (f *Fs) Sync() error {
	if err := f.file.Sync(); err != nil {
		return errors.Wrapf(err, "fs: sync %q", f.path)
	}

	return nil
}

// Close releases the descriptor.
func (f *Fs) Close() error {
	return f.file.Close()
}

// Exists reports whether a regular file exists at path. It is not usable
// for directories.
func Exists(path string) bool {
	stat, err := os.Stat(path)
	return err == nil && !stat.IsDir()
}
