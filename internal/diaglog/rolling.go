package diaglog

import (
	"errors"
	"os"
)

// rollingWriter appends to path and, when the next write would pass maxSize,
// moves the file to path+".1" (replacing any older generation) and starts a
// new one. At most two generations exist on disk. Callers serialise writes.
type rollingWriter struct {
	path    string
	maxSize int64
	f       *os.File
	size    int64
}

func newRollingWriter(path string, maxSize int64) (*rollingWriter, error) {
	rw := &rollingWriter{path: path, maxSize: maxSize}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *rollingWriter) open() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	rw.f = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rolling first if p would not fit. A record larger than
// maxSize is still written whole into a fresh file. When the roll fails but
// the file could be reopened, p is appended past maxSize and the roll is
// retried on the next write.
func (rw *rollingWriter) Write(p []byte) (int, error) {
	if rw.f == nil {
		if err := rw.open(); err != nil {
			return 0, err
		}
	}
	if rw.size > 0 && rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.roll(); err != nil && rw.f == nil {
			return 0, err
		}
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

// roll moves the current file aside and opens a fresh one. rw.f is nil
// afterwards only when no file could be opened at all.
func (rw *rollingWriter) roll() error {
	closeErr := rw.f.Close()
	rw.f = nil
	renameErr := os.Rename(rw.path, rw.path+".1")
	if err := rw.open(); err != nil {
		return errors.Join(closeErr, renameErr, err)
	}
	return errors.Join(closeErr, renameErr)
}

func (rw *rollingWriter) close() error {
	if rw.f == nil {
		return nil
	}
	_ = rw.f.Sync()
	err := rw.f.Close()
	rw.f = nil
	return err
}
