package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Loader reads labeled image records from a Parquet or JSONL file
type Loader struct {
	datasetPath string
}

// NewLoader creates a new dataset loader
func NewLoader(datasetPath string) *Loader {
	return &Loader{
		datasetPath: datasetPath,
	}
}

// Path is the dataset file the loader reads
func (l *Loader) Path() string {
	return l.datasetPath
}

// Load loads every record of the dataset. A malformed JSONL line is an error.
func (l *Loader) Load() ([]Record, error) {
	return l.load(0, true)
}

// LoadSample loads at most limit records, skipping malformed lines.
// A limit <= 0 loads everything.
func (l *Loader) LoadSample(limit int) ([]Record, error) {
	return l.load(limit, false)
}

func (l *Loader) load(limit int, strict bool) ([]Record, error) {
	var (
		records []Record
		err     error
	)

	ext := strings.ToLower(filepath.Ext(l.datasetPath))
	switch ext {
	case ".parquet":
		records, err = l.loadParquet(limit)
	case ".jsonl", ".json":
		records, err = l.loadJSONL(limit, strict)
	default:
		return nil, fmt.Errorf("unsupported file format: %s (supported: .parquet, .jsonl)", ext)
	}
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(l.datasetPath)
	kept := records[:0]
	for _, r := range records {
		if r.Image == "" || r.Label == "" {
			slog.Warn("Skipping incomplete record", "image", r.Image, "label", r.Label)
			continue
		}
		r.resolve(baseDir)
		kept = append(kept, r)
	}

	slog.Debug("Loaded dataset", "path", l.datasetPath, "records", len(kept))
	return kept, nil
}

func (l *Loader) loadJSONL(limit int, strict bool) ([]Record, error) {
	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)

	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	lineNum := 0
	for scanner.Scan() {
		if limit > 0 && len(records) >= limit {
			break
		}
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			if strict {
				return nil, fmt.Errorf("failed to parse JSON at line %d: %w", lineNum, err)
			}
			slog.Warn("Skipping malformed line", "line", lineNum, "err", err)
			continue
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading dataset: %w", err)
	}
	return records, nil
}

func (l *Loader) loadParquet(limit int) ([]Record, error) {
	file, err := os.Open(l.datasetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}
	slog.Debug("Parquet file opened", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[Record](pf)
	defer reader.Close()

	var records []Record
	rows := make([]Record, 128)
	for limit <= 0 || len(records) < limit {
		n, err := reader.Read(rows)
		if n > 0 {
			if limit > 0 && n > limit-len(records) {
				n = limit - len(records)
			}
			records = append(records, rows[:n]...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet rows: %w", err)
		}
	}
	return records, nil
}

// Labels returns the distinct labels of records in first-seen order
func Labels(records []Record) []string {
	seen := make(map[string]bool)
	var labels []string
	for _, r := range records {
		if !seen[r.Label] {
			seen[r.Label] = true
			labels = append(labels, r.Label)
		}
	}
	return labels
}
