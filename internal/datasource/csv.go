package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

// CSVSource 读取 <Dir>/<SYMBOL>.csv，表头需包含 date,open,high,low,close,volume。
type CSVSource struct {
	Dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{Dir: dir}
}

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	path := filepath.Join(s.Dir, strings.ToUpper(req.Symbol)+".csv")
	fh, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrSymbolNotFound, req.Symbol, path)
	}
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	bars, err := ReadCSV(fh, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := bars[:0]
	for _, b := range bars {
		if req.contains(b.Time) {
			out = append(out, b)
		}
	}
	return out, ctx.Err()
}

var requiredColumns = []string{"date", "open", "high", "low", "close", "volume"}

// ReadCSV 解析 K 线 CSV；多余列（adj_close、symbol）忽略。
func ReadCSV(r io.Reader, symbol string) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.ReplaceAll(h, " ", "_")))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("缺少列 %s", c)
		}
	}
	var out []market.Bar
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := ParseTime(rec[cols["date"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := market.Bar{Symbol: strings.ToUpper(symbol), Time: ts}
		fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
		for i, name := range requiredColumns[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[cols[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			*fields[i] = v
		}
		out = append(out, bar)
	}
	return out, nil
}

// ParseTime 支持 2006-01-02、RFC3339、unix 秒。
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ts, err := time.Parse(time.DateOnly, raw); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.DateTime, raw); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("无法解析时间 %q", raw)
}

// WriteCSV 按 ReadCSV 的格式写出，CLI 导出与测试共用。
func WriteCSV(w io.Writer, bars []market.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(requiredColumns); err != nil {
		return err
	}
	for _, b := range bars {
		rec := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
