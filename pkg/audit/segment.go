package audit

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	segmentPrefix = "segment-"
	segmentExt    = ".log"
	sealedExt     = ".log.gz"
)

// SegmentHeader is the first record of every segment. Genesis carries
// the hash handoff across rotations: the first segment opens with the
// fixed genesis sentinel, every later one with the final hash of the
// segment it succeeds.
type SegmentHeader struct {
	Segment  uint64    `json:"segment"`
	Genesis  string    `json:"genesis"`
	OpenedAt time.Time `json:"opened_at"`
}

// SegmentSeal is the last record of a sealed segment.
type SegmentSeal struct {
	Segment   uint64    `json:"segment"`
	FinalHash string    `json:"final_hash"`
	Events    uint64    `json:"events"`
	SealedAt  time.Time `json:"sealed_at"`
}

// wireRecord is the newline-delimited on-disk envelope. Exactly one of
// the payload fields is set, keyed by Type.
type wireRecord struct {
	Type  string         `json:"type"` // "open" | "event" | "seal"
	Open  *SegmentHeader `json:"open,omitempty"`
	Event *Event         `json:"event,omitempty"`
	Seal  *SegmentSeal   `json:"seal,omitempty"`
}

const (
	recordOpen  = "open"
	recordEvent = "event"
	recordSeal  = "seal"
)

func segmentName(n uint64) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, n, segmentExt)
}

// segmentNumber parses the sequence number out of a segment file name,
// sealed or active.
func segmentNumber(name string) (uint64, bool) {
	base := strings.TrimPrefix(name, segmentPrefix)
	if base == name {
		return 0, false
	}
	base = strings.TrimSuffix(base, sealedExt)
	base = strings.TrimSuffix(base, segmentExt)
	var n uint64
	if _, err := fmt.Sscanf(base, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

// listSegments returns the segment file names in dir in chain order.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("audit: read log dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := segmentNumber(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, _ := segmentNumber(names[i])
		b, _ := segmentNumber(names[j])
		return a < b
	})
	return names, nil
}

// readSegment streams every record of one segment file, transparently
// decompressing sealed segments, and hands each to fn in order. fn
// returning an error stops the scan.
func readSegment(path string, fn func(wireRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open segment %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, sealedExt) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("audit: open sealed segment %s: %w", path, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec wireRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("audit: segment %s line %d: %w", filepath.Base(path), line, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("audit: scan segment %s: %w", path, err)
	}
	return nil
}

// errStopScan aborts a segment walk early without reporting failure.
var errStopScan = errors.New("stop scan")

// compressSegment rewrites a sealed segment as gzip and removes the
// plain file. Compression failure leaves the plain segment in place;
// the chain stays intact either way.
func compressSegment(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("audit: open for compression: %w", err)
	}
	defer func() { _ = src.Close() }()

	dstPath := strings.TrimSuffix(path, segmentExt) + sealedExt
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("audit: create sealed segment: %w", err)
	}

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return fmt.Errorf("audit: compress segment: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(dstPath)
		return fmt.Errorf("audit: finalize sealed segment: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstPath)
		return fmt.Errorf("audit: close sealed segment: %w", err)
	}
	return os.Remove(path)
}
