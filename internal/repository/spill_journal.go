package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TradeLoop/internal/domain/models"
)

// Spill record kinds.
const (
	SpillDecision    = "decision"
	SpillOutcome     = "outcome"
	SpillCalibration = "calibration"
)

// SpillRecord is one line of the local spill file.
type SpillRecord struct {
	Kind        string                   `json:"kind"`
	Decision    *models.Decision         `json:"decision,omitempty"`
	Outcome     *models.TradeOutcome     `json:"outcome,omitempty"`
	Calibration *models.CalibrationEvent `json:"calibration,omitempty"`
	SpilledAt   time.Time                `json:"spilled_at"`
}

// SpillJournal is an fsynced JSON-lines file holding writes the backing
// journal refused. Replay drains it in order.
type SpillJournal struct {
	path     string
	mu       sync.Mutex
	replayMu sync.Mutex
}

// NewSpillJournal opens (creating if needed) dir/spill.jsonl.
func NewSpillJournal(dir string) (*SpillJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill dir: %w", err)
	}
	return &SpillJournal{path: filepath.Join(dir, "spill.jsonl")}, nil
}

// Path returns the spill file location.
func (s *SpillJournal) Path() string { return s.path }

// Append durably writes rec before returning.
func (s *SpillJournal) Append(rec SpillRecord) error {
	if rec.SpilledAt.IsZero() {
		rec.SpilledAt = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal spill record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spill file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	return f.Sync()
}

// Pending returns every spilled record in write order. Torn trailing lines
// are skipped.
func (s *SpillJournal) Pending() ([]SpillRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *SpillJournal) read() ([]SpillRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read spill file: %w", err)
	}
	var out []SpillRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec SpillRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// FindDecision looks up a spilled decision by id.
func (s *SpillJournal) FindDecision(id string) (*models.Decision, bool) {
	recs, err := s.Pending()
	if err != nil {
		return nil, false
	}
	for _, r := range recs {
		if r.Kind == SpillDecision && r.Decision != nil && r.Decision.ID == id {
			d := *r.Decision
			return &d, true
		}
	}
	return nil, false
}

// Replay hands records to apply in order and stops at the first failure.
// Applied records are removed; records appended during the replay are kept.
func (s *SpillJournal) Replay(ctx context.Context, apply func(context.Context, SpillRecord) error) (int, error) {
	s.replayMu.Lock()
	defer s.replayMu.Unlock()

	recs, err := s.Pending()
	if err != nil || len(recs) == 0 {
		return 0, err
	}

	done := 0
	var applyErr error
	for _, r := range recs {
		if err := ctx.Err(); err != nil {
			applyErr = err
			break
		}
		if err := apply(ctx, r); err != nil {
			applyErr = err
			break
		}
		done++
	}
	if done == 0 {
		return 0, applyErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.read()
	if err != nil {
		return 0, err
	}
	if done > len(current) {
		done = len(current)
	}
	if err := s.rewrite(current[done:]); err != nil {
		return 0, err
	}
	return done, applyErr
}

// rewrite replaces the spill file with recs through tmp + rename.
func (s *SpillJournal) rewrite(recs []SpillRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode spill record: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open spill tmp: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write spill tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync spill tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename spill tmp: %w", err)
	}
	return nil
}
