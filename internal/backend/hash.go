package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"time"
)

// Object metadata keys used by backends without a native content hash.
const (
	metaSHA256 = "sha256"
	metaMTime  = "mtime"
)

// hashingReader hashes everything read through it, so adapters report the
// digest of the bytes they actually sent.
type hashingReader struct {
	r io.Reader
	h hash.Hash
}

func newHashingReader(r io.Reader) *hashingReader {
	h := sha256.New()
	return &hashingReader{r: io.TeeReader(r, h), h: h}
}

func (hr *hashingReader) Read(p []byte) (int, error) { return hr.r.Read(p) }

// Sum returns the hex digest of the bytes read so far.
func (hr *hashingReader) Sum() string { return hex.EncodeToString(hr.h.Sum(nil)) }

// hashStream drains r and returns its hex digest.
func hashStream(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func formatMTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseMTime reads a stored mtime, falling back to the backend's own
// last-modified time when the metadata is missing or unreadable.
func parseMTime(s string, fallback time.Time) time.Time {
	if s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
	}
	return fallback.UTC()
}

// uploadTime is the logical modification time recorded for an upload.
func uploadTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
