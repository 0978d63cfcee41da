package replay

import (
	"testing"
	"time"
)

func TestMultiController_TwoSources_MergedInTimestampOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	ticks := NewMemorySource([]Row{
		{"timestamp": start.Add(0 * time.Second), "price": 1.0},
		{"timestamp": start.Add(2 * time.Second), "price": 2.0},
		{"timestamp": start.Add(4 * time.Second), "price": 3.0},
	}, "timestamp")
	bars := NewMemorySource([]Row{
		{"timestamp": start.Add(1 * time.Second), "close": 10.0},
		{"timestamp": start.Add(3 * time.Second), "close": 11.0},
	}, "timestamp")

	mc, err := NewMultiController(
		map[string]Source{"ticks": ticks, "bars": bars},
		nil,
		[]string{"ticks", "bars"},
		DefaultMultiConfig(),
		nil,
	)
	if err != nil {
		t.Fatalf("NewMultiController: %v", err)
	}

	out := mc.ProcessAllSync()
	if len(out) != 5 {
		t.Fatalf("got %d rows, want 5", len(out))
	}

	wantSources := []string{"ticks", "bars", "ticks", "bars", "ticks"}
	var lastTS time.Time
	for i, row := range out {
		if row[KeySource] != wantSources[i] {
			t.Errorf("row[%d][_source] = %v, want %s", i, row[KeySource], wantSources[i])
		}
		ts, ok := row[KeyTimestamp].(time.Time)
		if !ok {
			t.Fatalf("row[%d] missing _timestamp", i)
		}
		if i > 0 && ts.Before(lastTS) {
			t.Errorf("row[%d] timestamp %v precedes previous %v (merge not monotonic)", i, ts, lastTS)
		}
		lastTS = ts
	}
}

func TestMultiController_UnknownSourceName_Errors(t *testing.T) {
	ticks := NewMemorySource([]Row{{"timestamp": time.Now()}}, "timestamp")
	_, err := NewMultiController(
		map[string]Source{"ticks": ticks},
		nil,
		[]string{"ticks", "missing"},
		DefaultMultiConfig(),
		nil,
	)
	if err == nil {
		t.Fatal("expected error for unregistered source name in order list")
	}
}

func TestMultiController_TimestampExtractor_OverridesSourceColumn(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// No "timestamp" column in the source itself; rely entirely on an
	// extractor reading a different column (§6 timestamp_extractors).
	raw := NewMemorySource([]Row{
		{"epoch": start.Add(1 * time.Second).Unix()},
		{"epoch": start.Add(5 * time.Second).Unix()},
	}, "")
	bars := NewMemorySource([]Row{
		{"timestamp": start.Add(3 * time.Second)},
	}, "timestamp")

	extractor := func(row Row) (time.Time, bool) {
		sec, ok := row["epoch"].(int64)
		if !ok {
			return time.Time{}, false
		}
		return time.Unix(sec, 0), true
	}

	mc, err := NewMultiController(
		map[string]Source{"raw": raw, "bars": bars},
		map[string]TimestampExtractor{"raw": extractor},
		[]string{"raw", "bars"},
		DefaultMultiConfig(),
		nil,
	)
	if err != nil {
		t.Fatalf("NewMultiController: %v", err)
	}

	out := mc.ProcessAllSync()
	if len(out) != 3 {
		t.Fatalf("got %d rows, want 3", len(out))
	}
	// raw[0] (t+1s), bars[0] (t+3s), raw[1] (t+5s): only the extractor
	// gives raw's rows a timestamp, and without one raw[0] would sort
	// after bars[0].
	if out[0]["epoch"] != start.Add(1*time.Second).Unix() {
		t.Errorf("out[0] = %v, want raw row at t+1s first", out[0])
	}
	if out[1][KeySource] != "bars" {
		t.Errorf("out[1][_source] = %v, want bars", out[1][KeySource])
	}
	if out[2]["epoch"] != start.Add(5*time.Second).Unix() {
		t.Errorf("out[2] = %v, want raw row at t+5s last", out[2])
	}
}

func TestMultiController_Realtime_DeliversAllRowsThenCompletes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewMemorySource([]Row{
		{"timestamp": start.Add(0 * time.Millisecond)},
		{"timestamp": start.Add(2 * time.Millisecond)},
	}, "timestamp")
	b := NewMemorySource([]Row{
		{"timestamp": start.Add(1 * time.Millisecond)},
	}, "timestamp")

	cfg := DefaultMultiConfig()
	cfg.Mode = Realtime
	mc, err := NewMultiController(map[string]Source{"a": a, "b": b}, nil, []string{"a", "b"}, cfg, nil)
	if err != nil {
		t.Fatalf("NewMultiController: %v", err)
	}

	got := make(chan Row, 10)
	mc.RegisterCallback(func(row Row) { got <- row })

	if err := mc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mc.Stop()

	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d/3 merged rows", i)
		}
	}

	deadline := time.After(time.Second)
	for mc.Status() != Completed {
		select {
		case <-deadline:
			t.Fatalf("status = %s, want completed", mc.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
