package backtest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one historical bar for an instrument.
type Candle struct {
	At         time.Time
	Instrument string
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
}

// CSVFeeder streams candles from a CSV file with the header
// timestamp,instrument,open,high,low,close,volume. Timestamps are unix
// seconds.
type CSVFeeder struct {
	file   *os.File
	reader *csv.Reader
}

// NewCSVFeeder opens the data file and consumes its header row.
func NewCSVFeeder(path string) (*CSVFeeder, error) {
	// #nosec G304 -- file path is operator provided via CLI flags.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	reader := csv.NewReader(file)
	if _, err := reader.Read(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("read data header: %w", err)
	}
	return &CSVFeeder{file: file, reader: reader}, nil
}

// Next returns the next candle, or io.EOF when the file is exhausted.
func (f *CSVFeeder) Next() (Candle, error) {
	record, err := f.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Candle{}, io.EOF
		}
		return Candle{}, fmt.Errorf("read data record: %w", err)
	}
	if len(record) < 7 {
		return Candle{}, fmt.Errorf("short data record: %d columns", len(record))
	}

	unix, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return Candle{}, fmt.Errorf("parse timestamp %q: %w", record[0], err)
	}
	candle := Candle{
		At:         time.Unix(unix, 0).UTC(),
		Instrument: record[1],
	}
	fields := []struct {
		name string
		dst  *decimal.Decimal
		raw  string
	}{
		{"open", &candle.Open, record[2]},
		{"high", &candle.High, record[3]},
		{"low", &candle.Low, record[4]},
		{"close", &candle.Close, record[5]},
		{"volume", &candle.Volume, record[6]},
	}
	for _, field := range fields {
		value, err := decimal.NewFromString(field.raw)
		if err != nil {
			return Candle{}, fmt.Errorf("parse %s %q: %w", field.name, field.raw, err)
		}
		*field.dst = value
	}
	if !candle.Close.IsPositive() {
		return Candle{}, fmt.Errorf("non-positive close at %s", candle.At)
	}
	return candle, nil
}

// Close releases the underlying file.
func (f *CSVFeeder) Close() error {
	return f.file.Close()
}
