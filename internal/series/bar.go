// Package series holds the time-series primitives signal computation feeds
// on: OHLCV bars, CSV loading, and rolling windows.
package series

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/quantfold/driftcore/internal/ringbuf"
)

// Bar is one OHLCV observation. Date is UNIX seconds.
type Bar struct {
	Date   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *float64
}

// PercentChange is the close's move relative to a prior close, in percent.
func (b Bar) PercentChange(prevClose float64) float64 {
	return ((100 / prevClose) * b.Close) - 100
}

// Window is a bounded rolling history of bars, newest first.
type Window struct {
	bars *ringbuf.RingBuffer[Bar]
}

func NewWindow(capacity int) *Window {
	return &Window{bars: ringbuf.NewRingBuffer[Bar](capacity)}
}

func (w *Window) Push(bar Bar) {
	w.bars.Push(bar)
}

func (w *Window) Len() int {
	return w.bars.Len()
}

// Bars returns the window oldest-first.
func (w *Window) Bars() []Bar {
	return w.bars.Vec()
}

// Latest returns the newest bar.
func (w *Window) Latest() (Bar, bool) {
	return w.bars.Newest()
}

// LoadCSV reads bars from a headered CSV file with columns
// date,open,high,low,close[,volume], sorted ascending by date.
func LoadCSV(path string) ([]Bar, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open series %q: %w", path, err)
	}
	defer file.Close()
	bars, err := ParseCSV(file)
	if err != nil {
		return nil, fmt.Errorf("parse series %q: %w", path, err)
	}
	return bars, nil
}

// ParseCSV decodes bars from a headered CSV stream.
func ParseCSV(r io.Reader) ([]Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "open", "high", "low", "close"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	var bars []Bar
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		bar, err := barFromRow(columns, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return bars, nil
}

func barFromRow(columns map[string]int, row []string) (Bar, error) {
	field := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[index])
	}
	number := func(name string) (float64, error) {
		raw := field(name)
		if raw == "" {
			return 0, fmt.Errorf("empty column %q", name)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", name, err)
		}
		return value, nil
	}

	var bar Bar
	date, err := strconv.ParseInt(field("date"), 10, 64)
	if err != nil {
		return bar, fmt.Errorf("column date: %w", err)
	}
	bar.Date = date
	if bar.Open, err = number("open"); err != nil {
		return bar, err
	}
	if bar.High, err = number("high"); err != nil {
		return bar, err
	}
	if bar.Low, err = number("low"); err != nil {
		return bar, err
	}
	if bar.Close, err = number("close"); err != nil {
		return bar, err
	}
	if raw := field("volume"); raw != "" {
		volume, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return bar, fmt.Errorf("column volume: %w", err)
		}
		bar.Volume = &volume
	}
	return bar, nil
}
