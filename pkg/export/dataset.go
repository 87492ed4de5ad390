package export

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// ParseFormat resolves a query value, defaulting to JSON.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Dataset defines tabular export content. Rows are positional and must match
// the header count.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
	Footer  []string
}

// AddRow appends a row of cells.
func (d *Dataset) AddRow(cells ...string) {
	d.Rows = append(d.Rows, cells)
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Headers))
		}
	}
	return nil
}

// Render encodes the dataset in the given format. JSON renders rows as
// objects keyed by header.
func Render(format Format, data Dataset) ([]byte, error) {
	switch format {
	case FormatCSV:
		return NewCSVExporter().Render(data)
	case FormatPDF:
		return NewPDFExporter().Render(data)
	case FormatJSON:
		if err := data.validate(); err != nil {
			return nil, err
		}
		rows := make([]map[string]string, 0, len(data.Rows))
		for _, row := range data.Rows {
			obj := make(map[string]string, len(row))
			for i, cell := range row {
				obj[data.Headers[i]] = cell
			}
			rows = append(rows, obj)
		}
		return json.Marshal(rows)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
