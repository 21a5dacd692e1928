package seed

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"
)

// parseCSV reads seed records from a CSV with a header row. Column order is
// free; headers are matched case-insensitively.
func parseCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "seed: read csv header")
	}
	cols := headerIndex(header)

	var records []Record
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "seed: read csv row")
		}
		records = append(records, recordFromRow(row, cols))
	}
	return records, nil
}

// parseXLSX reads seed records from the first sheet of an XLSX workbook.
func parseXLSX(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "seed: read xlsx body")
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "seed: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("seed: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(rowToStrings(sheet.Rows[0]))
	records := make([]Record, 0, len(sheet.Rows)-1)
	for _, row := range sheet.Rows[1:] {
		records = append(records, recordFromRow(rowToStrings(row), cols))
	}
	return records, nil
}

// parseYAML reads seed records from a YAML document of the form
// `entities: [{name: ..., type: ...}, ...]`.
func parseYAML(r io.Reader) ([]Record, error) {
	var doc struct {
		Entities []Record `yaml:"entities"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "seed: decode yaml")
	}
	return doc.Entities, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return cols
}

func recordFromRow(row []string, cols map[string]int) Record {
	cell := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}
	return Record{
		Type:    cell("type"),
		Name:    cell("name"),
		PlaceID: cell("place_id"),
		Address: cell("address"),
		City:    cell("city"),
		Phone:   cell("phone"),
		Website: cell("website"),
	}
}

func rowToStrings(row *xlsx.Row) []string {
	out := make([]string, 0, len(row.Cells))
	for _, c := range row.Cells {
		out = append(out, c.String())
	}
	return out
}
