package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSyncHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "job completed",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tjob completed\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "job dequeued",
			want:    "2024-06-15T14:30:45Z\tDEBUG\top-456\tjob dequeued\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelWarn,
			message: "upload retry",
			attrs:   []slog.Attr{slog.String("backend", "azure_blob"), slog.Int("attempt", 2)},
			want:    "2024-06-15T14:30:45Z\tWARN\top-789\tupload retry\tbackend=azure_blob\tattempt=2\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &syncHandler{w: &buf, opID: tt.opID, level: slog.LevelDebug}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestSyncHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &syncHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "dispatcher")}).(*syncHandler)

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "started", 0)
	r.AddAttrs(slog.String("job_id", "abc"))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=dispatcher") {
		t.Errorf("expected pre-set attr component=dispatcher, got: %q", got)
	}
	if !strings.Contains(got, "job_id=abc") {
		t.Errorf("expected record attr job_id=abc, got: %q", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestSyncHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&syncHandler{w: &buf, opID: "op-1"})

	logger.WithGroup("http").Info("request", "status", 200)

	if got := buf.String(); !strings.Contains(got, "\thttp.status=200") {
		t.Errorf("output = %q, want grouped key http.status", got)
	}
}

func TestSyncHandler_Enabled(t *testing.T) {
	tests := []struct {
		name  string
		min   slog.Level
		level slog.Level
		want  bool
	}{
		{name: "debug allowed at debug", min: slog.LevelDebug, level: slog.LevelDebug, want: true},
		{name: "debug filtered at info", min: slog.LevelInfo, level: slog.LevelDebug, want: false},
		{name: "error allowed at info", min: slog.LevelInfo, level: slog.LevelError, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &syncHandler{level: tt.min}
			if got := h.Enabled(context.Background(), tt.level); got != tt.want {
				t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")

	logger, f, err := newLogger(dir, "test-op", slog.LevelInfo)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	defer f.Close()

	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(filepath.Join(dir, "cloudsync.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\ttest-op\thello\tkey=value") {
		t.Errorf("log file = %q, want line tagged with operation id", data)
	}
}
