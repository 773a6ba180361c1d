package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EmptyLedger(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")

	entries, err := s.Entries()
	assert.NoError(t, err)
	assert.Empty(t, entries)

	latest, err := s.Latest()
	assert.NoError(t, err)
	assert.Nil(t, latest)

	st, err := s.State()
	assert.NoError(t, err)
	assert.Equal(t, int64(0), st.LastID)
	assert.Zero(t, st.Cash())
}

func TestStore_BootstrapIsIdempotent(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")

	created, err := s.Bootstrap(1_000_000)
	require.NoError(t, err)
	assert.True(t, created)

	// A second bootstrap must not add another entry.
	created, err = s.Bootstrap(1_000_000)
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := s.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ID)
	assert.Equal(t, "init", entries[0].Action.Action)
	assert.Equal(t, 1_000_000.0, entries[0].Positions[CashSymbol])
}

func TestStore_AppendAndReplay(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")
	_, err := s.Bootstrap(1_000_000)
	require.NoError(t, err)

	st, err := s.State()
	require.NoError(t, err)

	now := Now()
	entry := Entry{
		Date:      DateOf(now),
		Timestamp: FormatTime(now),
		ID:        st.LastID + 1,
		Action: &TradeAction{
			Action:      "buy",
			Symbol:      "BTC",
			Amount:      0.01,
			MarketOrder: true,
			FillPrice:   50_000_000,
			Fee:         250,
			FeeRate:     0.0005,
			QuoteSpent:  500_000,
		},
		Positions:   map[string]float64{CashSymbol: 499_750, "BTC": 0.01},
		AvgCosts:    map[string]float64{"BTC": 50_000_000},
		RealizedPnL: 0,
	}
	require.NoError(t, s.Append(entry))

	// Replaying yields the appended state.
	st, err = s.State()
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.LastID)
	assert.Equal(t, 499_750.0, st.Cash())
	assert.Equal(t, 0.01, st.Positions["BTC"])
	assert.Equal(t, 50_000_000.0, st.AvgCosts["BTC"])

	// Replaying twice yields identical results.
	again, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestStore_SkipsMalformedAndTornLines(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")
	_, err := s.Bootstrap(1_000_000)
	require.NoError(t, err)

	// Simulate a torn trailing write plus junk in the middle of the file.
	f, err := os.OpenFile(s.PositionPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entry := Entry{
		Date:      "2026-08-22",
		Timestamp: "2026-08-22T10:00:00",
		ID:        2,
		Positions: map[string]float64{CashSymbol: 900_000},
		AvgCosts:  map[string]float64{},
	}
	require.NoError(t, s.Append(entry))

	f, err = os.OpenFile(s.PositionPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"date":"2026-08-22","timestamp":"2026-08-22T11:`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := s.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.LastID)
	assert.Equal(t, 900_000.0, st.Cash())
}

func TestStore_LatestPrefersGreatestID(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")

	require.NoError(t, s.Append(Entry{ID: 3, Positions: map[string]float64{CashSymbol: 3}}))
	require.NoError(t, s.Append(Entry{ID: 2, Positions: map[string]float64{CashSymbol: 2}}))

	latest, err := s.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(3), latest.ID)

	// On equal ids the later line wins.
	require.NoError(t, s.Append(Entry{ID: 3, Positions: map[string]float64{CashSymbol: 33}}))
	latest, err = s.Latest()
	require.NoError(t, err)
	assert.Equal(t, 33.0, latest.Positions[CashSymbol])
}

func TestStore_SignatureIsolation(t *testing.T) {
	root := t.TempDir()
	a := NewStore(root, "model_a")
	b := NewStore(root, "model_b")

	_, err := a.Bootstrap(100)
	require.NoError(t, err)
	_, err = b.Bootstrap(200)
	require.NoError(t, err)

	assert.NotEqual(t, a.PositionPath(), b.PositionPath())
	assert.Equal(t, filepath.Join(root, "model_a", "position", "position.jsonl"), a.PositionPath())

	stA, err := a.State()
	require.NoError(t, err)
	stB, err := b.State()
	require.NoError(t, err)
	assert.Equal(t, 100.0, stA.Cash())
	assert.Equal(t, 200.0, stB.Cash())

	sigs, err := Signatures(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"model_a", "model_b"}, sigs)
}

func TestStore_ReasoningPartitions(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")

	require.NoError(t, s.AppendReasoning("2026-08-21", ReasoningRecord{
		Timestamp: "2026-08-21T09:00:00", Model: "momentum", Content: "no signal",
	}))
	require.NoError(t, s.AppendReasoning("2026-08-20", ReasoningRecord{
		Timestamp: "2026-08-20T09:00:00", Model: "momentum", Content: "bought BTC",
	}))

	dates, err := s.ReasoningDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-20", "2026-08-21"}, dates)

	recs, err := s.Reasoning("2026-08-20")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "bought BTC", recs[0].Content)

	recs, err = s.Reasoning("2026-01-01")
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Metrics(t *testing.T) {
	s := NewStore(t.TempDir(), "model_a")

	require.NoError(t, s.AppendMetrics(MetricsRecord{Timestamp: "2026-08-20T09:00:00", Equity: 100, Cash: 100}))
	require.NoError(t, s.AppendMetrics(MetricsRecord{Timestamp: "2026-08-21T09:00:00", Equity: 110, Cash: 60, Holdings: 1}))

	recs, err := s.Metrics()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 110.0, recs[1].Equity)
}

func TestValidSignature(t *testing.T) {
	valid := []string{"model_a", "claude-sonnet_v1", "m.2", "A1"}
	for _, s := range valid {
		assert.True(t, ValidSignature(s), s)
	}

	invalid := []string{"", ".", "..", "a/b", `a\b`, "../escape"}
	for _, s := range invalid {
		assert.False(t, ValidSignature(s), s)
	}
}
