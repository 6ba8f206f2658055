package backend

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"cloudsync/internal/syncer"
)

func TestMetadataValue(t *testing.T) {
	md := map[string]*string{
		"Sha256": stringPtr("abc"),
		"mtime":  stringPtr("1700000000000"),
		"empty":  nil,
	}

	tests := []struct {
		key  string
		want string
	}{
		{key: "sha256", want: "abc"},
		{key: "MTIME", want: "1700000000000"},
		{key: "empty", want: ""},
		{key: "missing", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := metadataValue(md, tt.key); got != tt.want {
				t.Errorf("metadataValue(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestEscapeDriveQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "owner/ab/abcd/report.pdf", want: "owner/ab/abcd/report.pdf"},
		{in: "it's.txt", want: `it\'s.txt`},
		{in: `a\b`, want: `a\\b`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := escapeDriveQuery(tt.in); got != tt.want {
				t.Errorf("escapeDriveQuery(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDriveBackend_Wrap(t *testing.T) {
	b := &DriveBackend{}

	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "rate limited", err: &googleapi.Error{Code: 429}, transient: true},
		{name: "server error", err: fmt.Errorf("files.create: %w", &googleapi.Error{Code: 503}), transient: true},
		{name: "forbidden", err: &googleapi.Error{Code: 403}, transient: false},
		{name: "refresh rejected", err: &oauth2.RetrieveError{ErrorCode: "invalid_grant"}, transient: false},
		{name: "network", err: errors.New("connection reset"), transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.wrap("upload", tt.err)
			if got := syncer.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v (err = %v)", got, tt.transient, err)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("wrapped error does not match original: %v", err)
			}
		})
	}

	if !isDriveNotFound(&googleapi.Error{Code: 404}) {
		t.Error("isDriveNotFound(404) = false, want true")
	}
	if isDriveNotFound(errors.New("other")) {
		t.Error("isDriveNotFound(other) = true, want false")
	}
}
