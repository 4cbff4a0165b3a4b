// Package progress appends run progress events to a local JSONL file
// so other processes can observe live runs. Writes are best-effort:
// the store never fails a caller.
package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverhq/drover/pkg/log"
	"github.com/droverhq/drover/pkg/types"
)

// DefaultReplayMaxBytes bounds how much file tail ReadRecent scans
const DefaultReplayMaxBytes = 2 << 20

// Store appends ProgressEvents to one JSONL file
type Store struct {
	path     string
	maxBytes int64
	logger   zerolog.Logger

	mu      sync.Mutex
	counter atomic.Uint64
}

// NewStore creates a store writing to path. maxBytes <= 0 selects the
// default replay bound.
func NewStore(path string, maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultReplayMaxBytes
	}
	return &Store{
		path:     path,
		maxBytes: maxBytes,
		logger:   log.WithComponent("progress"),
	}
}

var (
	defaultStore   *Store
	defaultStoreMu sync.Mutex
)

// SetDefault installs the process-wide store
func SetDefault(s *Store) {
	defaultStoreMu.Lock()
	defer defaultStoreMu.Unlock()
	defaultStore = s
}

// Emit appends an event through the process-wide store, if configured
func Emit(evt types.ProgressEvent) {
	defaultStoreMu.Lock()
	s := defaultStore
	defaultStoreMu.Unlock()
	if s != nil {
		s.Emit(evt)
	}
}

// Emit appends one event. Seq and TS are stamped here; errors are
// swallowed (logged at debug) so progress reporting never breaks a run.
func (s *Store) Emit(evt types.ProgressEvent) {
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	evt.Seq = s.nextSeq(evt.TS)

	data, err := json.Marshal(evt)
	if err != nil {
		s.logger.Debug().Err(err).Str("event", evt.Event).Msg("Failed to marshal progress event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to create progress directory")
		return
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to open progress file")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to append progress event")
	}
}

// nextSeq builds a per-process strictly monotonic sequence token:
// zero-padded unix millis, pid, zero-padded counter. Consumers must
// not parse it beyond lexicographic ordering.
func (s *Store) nextSeq(ts time.Time) string {
	return fmt.Sprintf("%015d-%07d-%09d", ts.UnixMilli(), os.Getpid(), s.counter.Add(1))
}

// ReadRecent returns up to limit events from the file tail, oldest
// first. At most the configured replay byte bound is scanned; a line
// truncated by the bound is skipped.
func (s *Store) ReadRecent(limit int) ([]types.ProgressEvent, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	truncated := false
	if info.Size() > s.maxBytes {
		offset = info.Size() - s.maxBytes
		truncated = true
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}

	var out []types.ProgressEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if first {
			first = false
			if truncated {
				// First line after a mid-file seek is partial.
				continue
			}
		}
		if len(line) == 0 {
			continue
		}
		var evt types.ProgressEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
