package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store reads and writes the append-only record files of one model
// signature. Writers always append whole lines; readers replay the files on
// every call, so a Store is safe to share between one writer process and any
// number of reader processes without locking.
type Store struct {
	root      string
	signature string
}

// NewStore returns a store rooted at <root>/<signature>. The signature must
// satisfy ValidSignature; callers are expected to check it first.
func NewStore(root, signature string) *Store {
	return &Store{root: root, signature: signature}
}

// Signature returns the model signature this store is scoped to.
func (s *Store) Signature() string {
	return s.signature
}

func (s *Store) dir() string {
	return filepath.Join(s.root, s.signature)
}

// PositionPath returns the position ledger file path.
func (s *Store) PositionPath() string {
	return filepath.Join(s.dir(), "position", "position.jsonl")
}

// MetricsPath returns the metrics file path.
func (s *Store) MetricsPath() string {
	return filepath.Join(s.dir(), "metrics", "metrics.jsonl")
}

// LogDir returns the directory holding per-day reasoning logs.
func (s *Store) LogDir() string {
	return filepath.Join(s.dir(), "log")
}

// LogPath returns the reasoning log file path for a calendar day.
func (s *Store) LogPath(date string) string {
	return filepath.Join(s.LogDir(), date, "log.jsonl")
}

// appendLine writes one marshalled record plus newline in a single write so
// concurrent readers never observe a torn line boundary from the writer side.
func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// scanLines streams the non-blank lines of a record file. A missing file
// reads as empty.
func scanLines(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Entries replays the position ledger. Lines that fail to parse, including a
// torn trailing write, are skipped.
func (s *Store) Entries() ([]Entry, error) {
	var out []Entry
	err := scanLines(s.PositionPath(), func(line []byte) {
		var e Entry
		if json.Unmarshal(line, &e) != nil {
			return
		}
		out = append(out, e)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the entry with the greatest id, or nil when the ledger has
// no valid entries. Later lines win ties.
func (s *Store) Latest() (*Entry, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	var latest *Entry
	for i := range entries {
		if latest == nil || entries[i].ID >= latest.ID {
			latest = &entries[i]
		}
	}
	return latest, nil
}

// State reconstructs the portfolio state from the latest valid entry.
func (s *Store) State() (State, error) {
	st := State{
		Positions: make(map[string]float64),
		AvgCosts:  make(map[string]float64),
	}

	latest, err := s.Latest()
	if err != nil {
		return st, err
	}
	if latest == nil {
		return st, nil
	}

	for k, v := range latest.Positions {
		st.Positions[k] = v
	}
	for k, v := range latest.AvgCosts {
		st.AvgCosts[k] = v
	}
	st.RealizedPnL = latest.RealizedPnL
	st.LastID = latest.ID
	return st, nil
}

// Append adds one entry to the position ledger. Ids are assigned by the
// caller, monotonically from State().LastID.
func (s *Store) Append(e Entry) error {
	return appendLine(s.PositionPath(), e)
}

// Bootstrap writes the initial cash-only entry when the ledger is empty.
// It reports whether a new entry was created, so replaying an existing
// ledger is a no-op.
func (s *Store) Bootstrap(initialCash float64) (bool, error) {
	latest, err := s.Latest()
	if err != nil {
		return false, err
	}
	if latest != nil {
		return false, nil
	}

	now := Now()
	entry := Entry{
		Date:      DateOf(now),
		Timestamp: FormatTime(now),
		ID:        1,
		Action: &TradeAction{
			Action: "init",
			Note:   "paper trading init",
		},
		Positions: map[string]float64{CashSymbol: initialCash},
		AvgCosts:  map[string]float64{},
	}
	if err := s.Append(entry); err != nil {
		return false, err
	}
	return true, nil
}

// AppendReasoning adds one reasoning record under the given day partition.
func (s *Store) AppendReasoning(date string, rec ReasoningRecord) error {
	return appendLine(s.LogPath(date), rec)
}

// Reasoning replays the reasoning records of one day.
func (s *Store) Reasoning(date string) ([]ReasoningRecord, error) {
	var out []ReasoningRecord
	err := scanLines(s.LogPath(date), func(line []byte) {
		var r ReasoningRecord
		if json.Unmarshal(line, &r) != nil {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReasoningDates lists the day partitions that have reasoning logs, sorted
// ascending.
func (s *Store) ReasoningDates() ([]string, error) {
	entries, err := os.ReadDir(s.LogDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.LogDir(), err)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	sort.Strings(dates)
	return dates, nil
}

// AppendMetrics adds one metrics record.
func (s *Store) AppendMetrics(rec MetricsRecord) error {
	return appendLine(s.MetricsPath(), rec)
}

// Metrics replays the metrics records in file order.
func (s *Store) Metrics() ([]MetricsRecord, error) {
	var out []MetricsRecord
	err := scanLines(s.MetricsPath(), func(line []byte) {
		var r MetricsRecord
		if json.Unmarshal(line, &r) != nil {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Signatures lists the model signatures present under a data directory,
// sorted ascending.
func Signatures(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var sigs []string
	for _, e := range entries {
		if e.IsDir() && ValidSignature(e.Name()) {
			sigs = append(sigs, e.Name())
		}
	}
	sort.Strings(sigs)
	return sigs, nil
}
