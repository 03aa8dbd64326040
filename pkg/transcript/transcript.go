// Package transcript records per-session command activity as JSONL
// and optionally archives finished transcripts to S3. Transcripts are
// an audit trail, not a replay log: events carry outcomes and codes,
// never raw input text.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

// Event kinds.
const (
	EventSessionStart = "session_start"
	EventCommand      = "command"
	EventSessionEnd   = "session_end"
)

// Event is one transcript line.
type Event struct {
	Time      float64        `json:"ts"`
	Kind      string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Method    string         `json:"method,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Uploader archives a finished transcript. *S3Archiver satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, meta map[string]string) error
}

// Config tunes the recorder.
type Config struct {
	// Dir is where transcript files are written. Empty disables
	// recording entirely.
	Dir string
	// Bucket and Prefix name the S3 archive target. Empty Bucket
	// means transcripts stay on local disk.
	Bucket string
	Prefix string
}

// Recorder appends session events to one JSONL file per session. All
// methods are safe on a nil or disabled Recorder.
type Recorder struct {
	dir      string
	log      *slog.Logger
	uploader Uploader
	now      func() float64

	mu    sync.Mutex
	files map[string]*os.File
}

// New builds a Recorder writing under cfg.Dir. A nil cfg or empty Dir
// yields a disabled recorder. uploader may be nil; finished
// transcripts then stay on disk.
func New(cfg *Config, uploader Uploader, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		log: log.With("component", "transcript"),
		now: schema.Now,
	}
	if cfg == nil || cfg.Dir == "" {
		return r, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create dir: %w", err)
	}
	r.dir = cfg.Dir
	r.uploader = uploader
	r.files = make(map[string]*os.File)
	return r, nil
}

// Enabled reports whether events are being written anywhere.
func (r *Recorder) Enabled() bool { return r != nil && r.dir != "" }

// Record appends one event to the session's transcript. Failures are
// logged and swallowed; transcript trouble never fails a command.
func (r *Recorder) Record(sessionID string, ev Event) {
	if !r.Enabled() {
		return
	}
	if ev.Time == 0 {
		ev.Time = r.now()
	}
	ev.SessionID = sessionID
	line, err := json.Marshal(ev)
	if err != nil {
		r.log.Warn("could not encode transcript event",
			"session_id", sessionID,
			"error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.file(sessionID)
	if err != nil {
		r.log.Warn("could not open transcript file",
			"session_id", sessionID,
			"error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		r.log.Warn("could not write transcript event",
			"session_id", sessionID,
			"error", err)
	}
}

// EndSession closes the session's transcript and, when an uploader is
// configured, archives it. The local file is removed only after a
// successful upload.
func (r *Recorder) EndSession(ctx context.Context, sessionID string) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	f, ok := r.files[sessionID]
	if ok {
		delete(r.files, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		r.log.Warn("could not close transcript file",
			"session_id", sessionID,
			"error", err)
	}
	if r.uploader == nil {
		return
	}

	body, err := os.Open(path)
	if err != nil {
		r.log.Warn("could not reopen transcript for archive",
			"session_id", sessionID,
			"error", err)
		return
	}
	defer body.Close()

	key := sessionID + ".jsonl"
	meta := map[string]string{"session-id": sessionID}
	if err := r.uploader.Upload(ctx, key, body, meta); err != nil {
		r.log.Warn("transcript archive failed, keeping local file",
			"session_id", sessionID,
			"error", err)
		return
	}
	if err := os.Remove(path); err != nil {
		r.log.Warn("could not remove archived transcript",
			"session_id", sessionID,
			"error", err)
	}
	r.log.Debug("transcript archived", "session_id", sessionID)
}

// Close ends every open transcript. Called during shutdown.
func (r *Recorder) Close(ctx context.Context) {
	if !r.Enabled() {
		return
	}
	r.mu.Lock()
	ids := make([]string, 0, len(r.files))
	for id := range r.files {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.EndSession(ctx, id)
	}
}

// file returns the open transcript for sessionID, creating it on
// first use. Caller holds r.mu.
func (r *Recorder) file(sessionID string) (*os.File, error) {
	if f, ok := r.files[sessionID]; ok {
		return f, nil
	}
	path := filepath.Join(r.dir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	r.files[sessionID] = f
	return f, nil
}
