package hlsinput

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"path"
	"sync"

	"github.com/spf13/afero"
)

// SaveFiles mirrors every HLS segment HlsInput consumes to a directory on
// disk, purely for debugging a run after the fact; it is never read back
// by HlsInput itself. maxBytes bounds the mirror's total size: each time a
// mirrored file is closed, the oldest mirrored files (possibly including
// the one just closed) are removed until the total is at most maxBytes.
// A zero maxBytes means unlimited.
type SaveFiles struct {
	fs       afero.Fs
	dir      string
	maxBytes int64
	log      *slog.Logger

	mu    sync.Mutex
	files []savedFile
	total int64
}

type savedFile struct {
	path string
	size int64
}

// NewSaveFiles builds a SaveFiles mirroring into dir on fs. A nil fs
// defaults to afero.NewOsFs().
func NewSaveFiles(fs afero.Fs, dir string, maxBytes int64, log *slog.Logger) *SaveFiles {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SaveFiles{fs: fs, dir: dir, maxBytes: maxBytes, log: log}
}

// Wrap returns an io.ReadCloser that mirrors everything read from rc into
// a new file under s.dir, named after segmentURL's base name plus a short
// random suffix to avoid collisions across sessions. Mirror writes are
// best-effort: a chunk whose write fails is left out of the mirror file
// (later chunks are still written), and a failure never fails the read
// itself.
func (s *SaveFiles) Wrap(rc io.ReadCloser, segmentURL string) io.ReadCloser {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		s.log.Warn("creating save-files directory", slog.String("error", err.Error()))
		return rc
	}
	name := path.Join(s.dir, uniqueSegmentName(segmentURL))
	f, err := s.fs.Create(name)
	if err != nil {
		s.log.Warn("creating save-files mirror", slog.String("path", name), slog.String("error", err.Error()))
		return rc
	}
	return &teeCloser{ReadCloser: rc, mirror: f, path: name, save: s}
}

func uniqueSegmentName(segmentURL string) string {
	base := path.Base(segmentURL)
	if base == "" || base == "." || base == "/" {
		base = "segment.ts"
	}
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return hex.EncodeToString(suffix) + "-" + base
}

type teeCloser struct {
	io.ReadCloser
	mirror afero.File
	path   string
	size   int64
	save   *SaveFiles
}

func (t *teeCloser) Read(p []byte) (int, error) {
	n, err := t.ReadCloser.Read(p)
	if n > 0 {
		if _, werr := t.mirror.Write(p[:n]); werr == nil {
			t.size += int64(n)
		}
	}
	return n, err
}

func (t *teeCloser) Close() error {
	t.mirror.Close()
	t.save.record(t.path, t.size)
	err := t.ReadCloser.Close()
	return err
}

// record adds path/size to the accounting ledger and evicts the oldest
// mirrored files until the total is back under maxBytes.
func (s *SaveFiles) record(path string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files = append(s.files, savedFile{path: path, size: size})
	s.total += size

	if s.maxBytes <= 0 {
		return
	}
	for s.total > s.maxBytes && len(s.files) > 0 {
		oldest := s.files[0]
		s.files = s.files[1:]
		s.total -= oldest.size
		if err := s.fs.Remove(oldest.path); err != nil {
			s.log.Warn("evicting save-files mirror", slog.String("path", oldest.path), slog.String("error", err.Error()))
		}
	}
}
