package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

// spooledContent is a temporary on-disk copy of incoming content whose hash
// and size were computed while it was written.
type spooledContent struct {
	f    *os.File
	Hash string
	Size int64
}

// spool copies r to a temp file in dir while hashing it. A positive limit
// rejects content larger than limit bytes.
func spool(r io.Reader, dir string, limit int64) (*spooledContent, error) {
	f, err := os.CreateTemp(dir, ".spool-*")
	if err != nil {
		return nil, fmt.Errorf("creating spool file: %w", err)
	}

	success := false
	defer func() {
		if !success {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if limit > 0 && n > limit {
		return nil, &ValidationError{Field: "size", Msg: fmt.Sprintf("content exceeds the %d byte limit", limit)}
	}

	success = true
	return &spooledContent{f: f, Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// Reader rewinds the spool and returns a reader over its content.
func (s *spooledContent) Reader() (io.Reader, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding spool file: %w", err)
	}
	return s.f, nil
}

// Close removes the spool file.
func (s *spooledContent) Close() error {
	s.f.Close()
	return os.Remove(s.f.Name())
}

// conflictCopyName derives the stored name of a keep-both duplicate:
// "report.pdf" from azure_blob becomes "report (conflict azure_blob).pdf".
func conflictCopyName(filename string, backend BackendKind) string {
	ext := path.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	return fmt.Sprintf("%s (conflict %s)%s", base, backend, ext)
}
