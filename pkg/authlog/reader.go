// Package authlog reads the tail of the host authentication log and extracts
// failed login and sudo events from it.
package authlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// ErrLogNotFound is reported when none of the candidate paths exist.
var ErrLogNotFound = errors.New("Auth log file not found")

// ReadError is a failure reading an auth log that exists. The search stops at
// the first existing candidate, so Path always names that file.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	if errors.Is(e.Err, fs.ErrPermission) {
		return fmt.Sprintf("Permission denied reading %s", e.Path)
	}
	return fmt.Sprintf("reading %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Tail is the bounded, most recent window of an auth log.
type Tail struct {
	// Lines holds at most the requested number of lines, oldest first.
	Lines []string
	// Path is the candidate that was read, or empty when none existed.
	Path string
	Err  error
}

// Reader resolves absolute candidate paths inside a filesystem root.
type Reader struct {
	fsys fs.FS
}

// NewReader returns a Reader scoped to hostRoot. Use "/" on the host itself or
// the mount point of the host filesystem when running inside a container.
func NewReader(hostRoot string) *Reader {
	if hostRoot == "" {
		hostRoot = "/"
	}
	return &Reader{fsys: os.DirFS(hostRoot)}
}

// NewReaderFS returns a Reader over an arbitrary filesystem.
func NewReaderFS(fsys fs.FS) *Reader {
	return &Reader{fsys: fsys}
}

// ReadTail returns the last maxLines lines of the first candidate that exists.
// A candidate that exists but cannot be read ends the search with a ReadError.
func (r *Reader) ReadTail(paths []string, maxLines int) Tail {
	for _, p := range paths {
		name, ok := fsName(p)
		if !ok {
			continue
		}
		if _, err := fs.Stat(r.fsys, name); err != nil {
			continue
		}

		lines, err := r.readTail(name, maxLines)
		if err != nil {
			return Tail{Lines: []string{}, Path: p, Err: &ReadError{Path: p, Err: err}}
		}
		return Tail{Lines: lines, Path: p}
	}
	return Tail{Lines: []string{}, Err: ErrLogNotFound}
}

func (r *Reader) readTail(name string, maxLines int) ([]string, error) {
	f, err := r.fsys.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tailLines(f, maxLines)
}

// tailLines keeps a ring of at most maxLines lines while streaming src.
func tailLines(src io.Reader, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return []string{}, nil
	}

	ring := make([]string, 0, min(maxLines, 1024))
	next := 0
	br := bufio.NewReader(src)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimRight(line, "\r\n")
			if len(ring) < maxLines {
				ring = append(ring, line)
			} else {
				ring[next] = line
				next = (next + 1) % maxLines
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(ring))
	out = append(out, ring[next:]...)
	out = append(out, ring[:next]...)
	return out, nil
}

// fsName converts an absolute host path to an fs.FS name.
func fsName(p string) (string, bool) {
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	name := strings.TrimPrefix(path.Clean(p), "/")
	if name == "" || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}
