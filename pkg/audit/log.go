package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAppendFailed wraps any storage failure during Append. Callers
	// must treat it as fatal for the gateway: no execution without audit.
	ErrAppendFailed = errors.New("audit append failed")
	// ErrLogClosed is returned by operations on a closed log.
	ErrLogClosed = errors.New("audit log closed")
)

// Handler observes appended events. Handlers run on the appending
// goroutine after the event is durable.
type Handler func(*Event)

// Log is a single-writer, hash-chained audit log over newline-delimited
// JSON segment files in one directory.
//
// Concurrency model: any number of goroutines in one process may call
// Append; a mutex serializes them so partial writes cannot interleave
// and the last-hash pointer advances atomically with the write.
// Multiple processes writing the same directory are not supported.
type Log struct {
	mu        sync.Mutex
	dir       string
	f         *os.File
	segment   uint64
	openedAt  time.Time
	count     uint64 // events in the active segment
	sequence  uint64 // global event sequence
	lastHash  string
	retention time.Duration
	compress  bool
	handlers  []Handler
	logger    *slog.Logger
	clock     func() time.Time
	closed    bool
}

// LogOption configures a Log.
type LogOption func(*Log)

// WithRetention sets the segment rotation boundary. A segment older
// than d is sealed before the next append. Zero disables rotation.
func WithRetention(d time.Duration) LogOption {
	return func(l *Log) { l.retention = d }
}

// WithCompression controls whether sealed segments are gzipped.
func WithCompression(enabled bool) LogOption {
	return func(l *Log) { l.compress = enabled }
}

// WithLogClock overrides the clock for testing.
func WithLogClock(clock func() time.Time) LogOption {
	return func(l *Log) { l.clock = clock }
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) LogOption {
	return func(l *Log) { l.logger = logger }
}

// Open opens (or creates) the audit log in dir and recovers the chain
// position from the active segment.
func Open(dir string, opts ...LogOption) (*Log, error) {
	l := &Log{
		dir:      dir,
		lastHash: Genesis,
		compress: true,
		logger:   slog.Default().With("component", "audit"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

// recover restores segment number, sequence, and last hash from disk.
func (l *Log) recover() error {
	names, err := listSegments(l.dir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return l.openSegment(1, Genesis)
	}

	last := names[len(names)-1]
	n, _ := segmentNumber(last)

	// Replay every segment to find the global sequence and last hash.
	sealed := false
	for _, name := range names {
		err := readSegment(filepath.Join(l.dir, name), func(rec wireRecord) error {
			switch rec.Type {
			case recordOpen:
				if rec.Open != nil {
					l.openedAt = rec.Open.OpenedAt
				}
				sealed = false
			case recordEvent:
				if rec.Event != nil {
					l.sequence = rec.Event.Sequence
					l.lastHash = rec.Event.Hash
					l.count++
				}
			case recordSeal:
				sealed = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if name != last {
			l.count = 0
		}
	}

	if sealed || strings.HasSuffix(last, sealedExt) {
		// Last segment is closed; continue the chain in a new one.
		l.count = 0
		return l.openSegment(n+1, l.lastHash)
	}

	f, err := os.OpenFile(filepath.Join(l.dir, last), os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: reopen active segment: %w", err)
	}
	l.f = f
	l.segment = n
	return nil
}

// openSegment creates segment n whose chain starts at genesis.
func (l *Log) openSegment(n uint64, genesis string) error {
	path := filepath.Join(l.dir, segmentName(n))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("audit: create segment: %w", err)
	}

	header := &SegmentHeader{Segment: n, Genesis: genesis, OpenedAt: l.clock().UTC()}
	if err := writeRecord(f, wireRecord{Type: recordOpen, Open: header}); err != nil {
		_ = f.Close()
		return err
	}

	l.f = f
	l.segment = n
	l.openedAt = header.OpenedAt
	l.count = 0
	return nil
}

// Append records one event at the head of the chain and returns it
// with its computed hash, so the caller can correlate the decision
// with its audit record.
func (l *Log) Append(ctx context.Context, rec Record) (*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	if err := l.maybeRotate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	e := &Event{
		ID:             uuid.New().String(),
		Sequence:       l.sequence + 1,
		Timestamp:      l.clock().UTC(),
		ActorID:        rec.ActorID,
		SessionID:      rec.SessionID,
		OperationID:    rec.OperationID,
		Classification: rec.Classification,
		Provider:       rec.Provider,
		Channel:        rec.Channel,
		Allowed:        rec.Allowed,
		Success:        rec.Success,
		Duration:       rec.Duration,
		Violations:     normalize(rec.Violations),
		Warnings:       normalize(rec.Warnings),
		DecisionHash:   rec.DecisionHash,
		PrevHash:       l.lastHash,
	}

	hash, err := computeEventHash(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	e.Hash = hash

	if err := writeRecord(l.f, wireRecord{Type: recordEvent, Event: e}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	if err := l.f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync: %v", ErrAppendFailed, err)
	}

	l.sequence = e.Sequence
	l.lastHash = e.Hash
	l.count++

	for _, h := range l.handlers {
		h(e)
	}

	l.logger.DebugContext(ctx, "event appended",
		"event_id", e.ID, "sequence", e.Sequence, "allowed", e.Allowed)
	return e, nil
}

// OnAppend registers a handler for future appends.
func (l *Log) OnAppend(h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// maybeRotate seals the active segment once the retention boundary is
// crossed and opens the successor with the final hash as its genesis.
func (l *Log) maybeRotate() error {
	if l.retention <= 0 || l.clock().Sub(l.openedAt) < l.retention {
		return nil
	}
	return l.rotate()
}

func (l *Log) rotate() error {
	seal := &SegmentSeal{
		Segment:   l.segment,
		FinalHash: l.lastHash,
		Events:    l.count,
		SealedAt:  l.clock().UTC(),
	}
	if err := writeRecord(l.f, wireRecord{Type: recordSeal, Seal: seal}); err != nil {
		return err
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync sealed segment: %w", err)
	}
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("audit: close sealed segment: %w", err)
	}

	sealedPath := filepath.Join(l.dir, segmentName(l.segment))
	if l.compress {
		if err := compressSegment(sealedPath); err != nil {
			// Plain sealed segment is still a valid chain member.
			l.logger.Warn("segment compression failed", "segment", l.segment, "error", err)
		}
	}

	l.logger.Info("segment sealed",
		"segment", l.segment, "events", seal.Events, "final_hash", seal.FinalHash)
	return l.openSegment(l.segment+1, l.lastHash)
}

// Rotate seals the active segment immediately, regardless of the
// retention boundary. Exposed for operator tooling.
func (l *Log) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}
	return l.rotate()
}

// LastHash returns the chain head.
func (l *Log) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastHash
}

// Sequence returns the sequence number of the newest event.
func (l *Log) Sequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// Dir returns the log directory.
func (l *Log) Dir() string { return l.dir }

// Close flushes and closes the active segment. The log cannot be used
// afterwards.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.f.Sync(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("audit: sync on close: %w", err)
	}
	return l.f.Close()
}

func writeRecord(f *os.File, rec wireRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("audit: write record: %w", err)
	}
	return nil
}

func normalize(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
