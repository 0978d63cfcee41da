package replay

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Row is the map-of-column-to-value shape emitted by a Source and, after
// the controller stamps its reserved keys, passed to callbacks (§4.2.1).
type Row = map[string]any

// Reserved keys added to emitted data points in addition to their source
// columns. KeySource and KeyIndex are always set; KeyTimestamp is set
// only when a timestamp is known for the row.
const (
	KeyTimestamp = "_timestamp"
	KeySource    = "_source"
	KeyIndex     = "index"
)

// Source is the tabular source contract consumed by the replay
// controller (§6): ordered 0-based integer indexing, per-row retrieval,
// an optional timestamp extractor, and optional schema introspection.
type Source interface {
	// Len returns the total row count, or -1 if unknown (a streaming
	// source that hasn't finished reading).
	Len() int
	// Row returns the row at index i, or ok=false if i is out of range
	// (for a streaming source, "out of range" includes "not yet read
	// and the underlying reader is exhausted").
	Row(i int) (row Row, ok bool)
	// Timestamp extracts the timestamp for row i, or ok=false if none
	// can be determined.
	Timestamp(i int) (ts time.Time, ok bool)
	// Columns returns the known column names, or nil if not introspectable.
	Columns() []string
}

// CSVSource is a Source backed by a fully materialized CSV file: all
// rows are parsed up front. Grounded on
// internal/observer/backtest_feed.go's ParseCSV/parseTimestamp, adapted
// to emit generic column maps instead of types.MarketEvent.
type CSVSource struct {
	rows      []Row
	columns   []string
	timestamp string // name of the timestamp column, if any
}

// NewCSVSource parses every row of r up front. timestampColumn selects
// which column (if any) holds the row's timestamp; pass "" to use the
// first header column named timestamp, time, date or datetime, else the
// first column (no column at all when the input has no header row).
func NewCSVSource(r io.Reader, timestampColumn string) (*CSVSource, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true

	var columns []string
	var rows []Row
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("replay: csv line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && looksLikeHeader(record) {
			columns = record
			continue
		}

		row := make(Row, len(record))
		for i, v := range record {
			name := columnName(columns, i)
			row[name] = parseCell(v)
		}
		rows = append(rows, row)
	}

	tsCol := timestampColumn
	if tsCol == "" {
		tsCol = guessTimestampColumn(columns)
	}

	return &CSVSource{rows: rows, columns: columns, timestamp: tsCol}, nil
}

func (s *CSVSource) Len() int { return len(s.rows) }

func (s *CSVSource) Row(i int) (Row, bool) {
	if i < 0 || i >= len(s.rows) {
		return nil, false
	}
	// Return a shallow copy so callers mutating the returned map never
	// corrupt the source's own storage.
	out := make(Row, len(s.rows[i]))
	for k, v := range s.rows[i] {
		out[k] = v
	}
	return out, true
}

func (s *CSVSource) Timestamp(i int) (time.Time, bool) {
	if s.timestamp == "" || i < 0 || i >= len(s.rows) {
		return time.Time{}, false
	}
	v, ok := s.rows[i][s.timestamp]
	if !ok {
		return time.Time{}, false
	}
	return toTimestamp(v)
}

func (s *CSVSource) Columns() []string { return s.columns }

// CSVSourceStreaming is a Source that reads rows from the underlying
// CSV lazily, buffering only what has been requested so far. Grounded
// on the original's "dataframe_optimized" iterator branch
// (_preload_next_data_point) — a performance switch for large sources,
// per §5's "Memory optimization mode", not a behavioral change. It
// assumes sequential, non-decreasing access to Row(i), which is exactly
// how the replay controller's worker drives a source.
type CSVSourceStreaming struct {
	reader    *csv.Reader
	closer    io.Closer
	columns   []string
	timestamp string

	buf    []Row
	eof    bool
	lineNo int
}

// NewCSVSourceStreaming wraps r for lazy row-at-a-time reading. If r
// also implements io.Closer, it is closed once a read returns an error,
// end of input included. There is no Close method, so a source that is
// not read to the end leaves r open.
func NewCSVSourceStreaming(r io.Reader, timestampColumn string) *CSVSourceStreaming {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	var closer io.Closer
	if c, ok := r.(io.Closer); ok {
		closer = c
	}
	return &CSVSourceStreaming{reader: reader, closer: closer, timestamp: timestampColumn}
}

// Len always reports -1: a streaming source does not know its length
// until it has read to the end.
func (s *CSVSourceStreaming) Len() int { return -1 }

func (s *CSVSourceStreaming) Row(i int) (Row, bool) {
	for len(s.buf) <= i && !s.eof {
		s.readOne()
	}
	if i < 0 || i >= len(s.buf) {
		return nil, false
	}
	out := make(Row, len(s.buf[i]))
	for k, v := range s.buf[i] {
		out[k] = v
	}
	return out, true
}

func (s *CSVSourceStreaming) readOne() {
	record, err := s.reader.Read()
	if err != nil {
		s.eof = true
		if s.closer != nil {
			_ = s.closer.Close()
		}
		return
	}
	s.lineNo++
	if s.lineNo == 1 && looksLikeHeader(record) {
		s.columns = record
		if s.timestamp == "" {
			s.timestamp = guessTimestampColumn(s.columns)
		}
		s.readOne()
		return
	}
	row := make(Row, len(record))
	for i, v := range record {
		row[columnName(s.columns, i)] = parseCell(v)
	}
	s.buf = append(s.buf, row)
}

func (s *CSVSourceStreaming) Timestamp(i int) (time.Time, bool) {
	if s.timestamp == "" {
		return time.Time{}, false
	}
	row, ok := s.Row(i)
	if !ok {
		return time.Time{}, false
	}
	v, ok := row[s.timestamp]
	if !ok {
		return time.Time{}, false
	}
	return toTimestamp(v)
}

func (s *CSVSourceStreaming) Columns() []string { return s.columns }

// MemorySource is an in-memory Source, useful for tests and for callers
// that already hold their data as a slice of maps.
type MemorySource struct {
	rows      []Row
	columns   []string
	timestamp string
}

// NewMemorySource wraps rows directly. timestampColumn names the column
// holding each row's timestamp, if any.
func NewMemorySource(rows []Row, timestampColumn string) *MemorySource {
	var columns []string
	if len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
	}
	return &MemorySource{rows: rows, columns: columns, timestamp: timestampColumn}
}

func (s *MemorySource) Len() int { return len(s.rows) }

func (s *MemorySource) Row(i int) (Row, bool) {
	if i < 0 || i >= len(s.rows) {
		return nil, false
	}
	out := make(Row, len(s.rows[i]))
	for k, v := range s.rows[i] {
		out[k] = v
	}
	return out, true
}

func (s *MemorySource) Timestamp(i int) (time.Time, bool) {
	if s.timestamp == "" || i < 0 || i >= len(s.rows) {
		return time.Time{}, false
	}
	v, ok := s.rows[i][s.timestamp]
	if !ok {
		return time.Time{}, false
	}
	return toTimestamp(v)
}

func (s *MemorySource) Columns() []string { return s.columns }

func columnName(columns []string, i int) string {
	if i < len(columns) {
		return columns[i]
	}
	return fmt.Sprintf("col%d", i)
}

// parseCell applies the same best-effort typed-parsing cascade as
// internal/observer/backtest_feed.go: try decimal, then timestamp,
// falling back to the raw string.
func parseCell(v string) any {
	if d, err := decimal.NewFromString(v); err == nil {
		return d
	}
	if ts, err := parseTimestamp(v); err == nil {
		return ts
	}
	return v
}

func toTimestamp(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		ts, err := parseTimestamp(t)
		return ts, err == nil
	case decimal.Decimal:
		return time.Unix(t.IntPart(), 0), true
	default:
		return time.Time{}, false
	}
}

// parseTimestamp tries multiple timestamp formats, same cascade as
// observer.parseTimestamp.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0), nil
	}
	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04",
		"2006-01-02",
		"01/02/2006 15:04:05",
		"01/02/2006",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("replay: unknown timestamp format: %s", s)
}

func looksLikeHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	headers := []string{"timestamp", "time", "date", "datetime", "open", "high", "low", "close", "volume", "index"}
	for _, h := range headers {
		if record[0] == h {
			return true
		}
	}
	return false
}

func guessTimestampColumn(columns []string) string {
	candidates := []string{"timestamp", "time", "date", "datetime"}
	for _, c := range candidates {
		for _, col := range columns {
			if col == c {
				return col
			}
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}
