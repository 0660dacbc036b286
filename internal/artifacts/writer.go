// Package artifacts persists scan results to disk so a run can be
// inspected or plotted after the process exits.
package artifacts

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/regimescan/internal/mdl"
)

// Writer writes scan artifacts under a base directory.
type Writer struct {
	dir string
}

// NewWriter returns a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifacts dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("ensure artifacts dir %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// Record is the JSON artifact layout for one scan.
type Record struct {
	ScanID      string        `json:"scan_id"`
	Symbol      string        `json:"symbol,omitempty"`
	Source      string        `json:"source"`
	Stride      int           `json:"stride"`
	Smoothing   float64       `json:"smoothing"`
	ChangePoint *string       `json:"change_point"`
	ChangeIndex *int          `json:"change_index"`
	Series      []RecordPoint `json:"series"`
	ScannedAt   time.Time     `json:"scanned_at"`
}

// RecordPoint is one smoothed description-length sample.
type RecordPoint struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// WriteScan writes the scan result as a JSON artifact and a CSV of the
// smoothed series. Both files share one uuid-derived stem; the JSON
// path is returned for logging.
func (w *Writer) WriteScan(symbol, source string, params mdl.Params, result *mdl.Result) (string, error) {
	record := Record{
		ScanID:    uuid.NewString(),
		Symbol:    symbol,
		Source:    source,
		Stride:    params.Stride,
		Smoothing: params.Smoothing,
		Series:    make([]RecordPoint, 0, len(result.Series)),
		ScannedAt: time.Now().UTC(),
	}
	for _, pt := range result.Series {
		record.Series = append(record.Series, RecordPoint{Key: pt.Key.String(), Value: pt.Value})
	}
	if result.ChangePoint != nil {
		key := result.ChangePoint.String()
		idx := result.ChangePoint.Index
		record.ChangePoint = &key
		record.ChangeIndex = &idx
	}

	stem := record.ScannedAt.Format("20060102-150405") + "-" + record.ScanID
	jsonPath := filepath.Join(w.dir, stem+".json")

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", jsonPath, err)
	}

	if err := w.writeSeriesCSV(filepath.Join(w.dir, stem+".csv"), result); err != nil {
		return "", err
	}
	return jsonPath, nil
}

func (w *Writer) writeSeriesCSV(path string, result *mdl.Result) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"split", "smoothed_description_length", "change_point"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, pt := range result.Series {
		marker := ""
		if result.ChangePoint != nil && result.ChangePoint.Index == pt.Key.Index {
			marker = "1"
		}
		row := []string{pt.Key.String(), strconv.FormatFloat(pt.Value, 'g', -1, 64), marker}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
