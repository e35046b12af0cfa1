package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradelab/internal/domain"
)

// Compile-time interface check.
var _ BarReader = (*CSVStore)(nil)

// CSVStore reads bars from one CSV file per symbol:
//
//	<Dir>/<SYMBOL>.csv
//
// The first row is a header naming the columns; timestamp, open, high, low,
// close are required, volume, trade_count and vwap are optional. Timestamps
// are RFC3339 or YYYY-MM-DD. Rows are returned in file order.
type CSVStore struct {
	Dir string
}

// NewCSVStore creates a CSVStore reading from dir.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{Dir: dir}
}

var requiredColumns = []string{"timestamp", "open", "high", "low", "close"}

// ReadBars implements BarReader. market is ignored; one directory holds one
// market.
func (s *CSVStore) ReadBars(_ context.Context, symbol string, _ string, start, end time.Time) ([]domain.Bar, error) {
	path := filepath.Join(s.Dir, strings.ToUpper(symbol)+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: reading header: %w", path, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", path, c)
		}
	}

	var bars []domain.Bar
	for line := 2; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		b, err := parseBarRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if !inRange(b.Timestamp, start, end) {
			continue
		}
		b.Symbol = strings.ToUpper(symbol)
		bars = append(bars, b)
	}
	return bars, nil
}

func parseBarRow(row []string, cols map[string]int) (domain.Bar, error) {
	field := func(name string) (string, bool) {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}
	float := func(name string) (float64, error) {
		v, ok := field(name)
		if !ok || v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", name, v, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("bad %s %q: not a finite number", name, v)
		}
		return f, nil
	}
	integer := func(name string) (int64, error) {
		v, ok := field(name)
		if !ok || v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s %q: %w", name, v, err)
		}
		return n, nil
	}

	var (
		b   domain.Bar
		err error
	)
	ts, _ := field("timestamp")
	if b.Timestamp, err = parseTimestamp(ts); err != nil {
		return b, err
	}
	if b.Open, err = float("open"); err != nil {
		return b, err
	}
	if b.High, err = float("high"); err != nil {
		return b, err
	}
	if b.Low, err = float("low"); err != nil {
		return b, err
	}
	if b.Close, err = float("close"); err != nil {
		return b, err
	}
	if b.VWAP, err = float("vwap"); err != nil {
		return b, err
	}
	if b.Volume, err = integer("volume"); err != nil {
		return b, err
	}
	if b.TradeCount, err = integer("trade_count"); err != nil {
		return b, err
	}
	return b, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}
