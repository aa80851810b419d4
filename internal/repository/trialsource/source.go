// Package trialsource reads the trial corpus from a ClinicalTrials.gov export
// (CSV) or a JSON array of rows and hands it to the normalizer.
package trialsource

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

// Result is a loaded corpus plus how many raw rows were dropped.
type Result struct {
	Records []trial.Record
	Rows    int
	Dropped int
}

// Load reads path and normalizes its rows. The format follows the extension:
// .json is a JSON array (or an object with a "trials" array), anything else is CSV.
func Load(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer f.Close()

	var rows []map[string]any
	if strings.EqualFold(filepath.Ext(path), ".json") {
		rows, err = ReadJSON(f)
	} else {
		rows, err = ReadCSV(f)
	}
	if err != nil {
		return Result{}, fmt.Errorf("read corpus %s: %w", path, err)
	}

	recs := trial.Normalize(rows)
	return Result{Records: recs, Rows: len(rows), Dropped: len(rows) - len(recs)}, nil
}

// ReadCSV reads a header row followed by data rows. Short rows leave the
// missing columns unset.
func ReadCSV(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w: %w", domain.ErrDataSource, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	var rows []map[string]any
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w: %w", len(rows)+1, domain.ErrDataSource, err)
		}
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(rec) && col != "" {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadJSON accepts `[{...}, ...]` or `{"trials": [{...}, ...]}`. Numbers are
// kept as json.Number so counts survive unrounded.
func ReadJSON(r io.Reader) ([]map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '{' {
		var wrapped struct {
			Trials []map[string]any `json:"trials"`
		}
		if err := dec.Decode(&wrapped); err != nil {
			return nil, fmt.Errorf("decode json: %w: %w", domain.ErrDataSource, err)
		}
		return wrapped.Trials, nil
	}

	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json: %w: %w", domain.ErrDataSource, err)
	}
	return rows, nil
}
