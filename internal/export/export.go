// Package export writes extracted contact records to JSON, CSV and XLSX
// files.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/costar-cli/internal/model"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileSink writes each named result set to <dir>/<name>.<format>.
type FileSink struct {
	dir    string
	format string
}

// NewFileSink returns a sink writing format files under dir.
func NewFileSink(dir, format string) (*FileSink, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatJSON, FormatCSV, FormatXLSX:
	default:
		return nil, eris.Errorf("export: unsupported format %q", format)
	}
	return &FileSink{dir: dir, format: format}, nil
}

// Path returns the file a result set called name is written to.
func (s *FileSink) Path(name string) string {
	base := strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_")
	if base == "" {
		base = "contacts"
	}
	return filepath.Join(s.dir, base+"."+s.format)
}

// Write replaces the file for name with records.
func (s *FileSink) Write(_ context.Context, name string, records []model.ExtractedContactRecord) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "export: create dir")
	}
	path := s.Path(name)

	var err error
	switch s.format {
	case FormatJSON:
		err = WriteJSON(path, records)
	case FormatCSV:
		err = WriteCSV(path, records)
	case FormatXLSX:
		err = WriteXLSX(path, records)
	}
	if err != nil {
		return err
	}

	zap.L().Info("exported contacts",
		zap.String("path", path),
		zap.Int("records", len(records)),
	)
	return nil
}

// WriteJSON writes records as an array of flat string maps. Empty fields
// are omitted.
func WriteJSON(path string, records []model.ExtractedContactRecord) error {
	rows := make([]map[string]string, len(records))
	for i := range records {
		rows[i] = records[i].Map()
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal json")
	}
	return eris.Wrap(os.WriteFile(path, append(data, '\n'), 0o644), "export: write json")
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(path string, records []model.ExtractedContactRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "export: create csv")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(model.RecordColumns()); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for i := range records {
		if err := w.Write(records[i].Values()); err != nil {
			return eris.Wrap(err, "export: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush csv")
	}
	return eris.Wrap(f.Close(), "export: close csv")
}

// WriteXLSX writes a single "Contacts" sheet with a header row.
func WriteXLSX(path string, records []model.ExtractedContactRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Contacts")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, model.RecordColumns())
	for i := range records {
		addRow(sheet, records[i].Values())
	}
	return eris.Wrap(f.Save(path), "export: save xlsx")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
