package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/emissionary/backend/internal/domain"
)

// ErrMissingColumns is returned when the header lacks a name or factor column
var ErrMissingColumns = errors.New("dataset header must contain a food name and an emission factor column")

// columns holds header positions; category is optional (-1)
type columns struct {
	name, category, factor int
}

// Load reads a reference dataset from a .csv or .xlsx file
func Load(path string) (*Store, error) {
	var (
		rows [][]string
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(path)
	default:
		rows, err = readCSVFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}

	records, err := parseRows(rows)
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}

	return NewStore(records, path)
}

// LoadCSV reads a CSV dataset from r
func LoadCSV(r io.Reader, source string) (*Store, error) {
	rows, err := readCSV(r)
	if err != nil {
		return nil, err
	}
	records, err := parseRows(rows)
	if err != nil {
		return nil, err
	}
	return NewStore(records, source)
}

func readCSVFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCSV(f)
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	return reader.ReadAll()
}

// readXLSX returns the rows of the first sheet in the workbook
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func parseRows(rows [][]string) ([]domain.ReferenceFoodRecord, error) {
	if len(rows) == 0 {
		return nil, errors.New("dataset is empty")
	}

	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}

	records := make([]domain.ReferenceFoodRecord, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		name := cell(row, cols.name)
		if name == "" {
			continue // blank line or spreadsheet padding
		}

		raw := strings.TrimSpace(cell(row, cols.factor))
		factor, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid emission factor %q", line, raw)
		}

		records = append(records, domain.ReferenceFoodRecord{
			Name:                name,
			Category:            cell(row, cols.category),
			EmissionFactorPerKg: factor,
		})
	}

	return records, nil
}

// detectColumns matches header cells loosely so both "food name, category,
// emission factor (kg CO2e/kg)" and "canonical,category,emissions_kg_per_kg"
// layouts load.
func detectColumns(header []string) (columns, error) {
	cols := columns{name: -1, category: -1, factor: -1}

	for i, h := range header {
		key := domain.Canonicalize(h)
		switch {
		case cols.factor < 0 && (strings.Contains(key, "emission") || strings.Contains(key, "co2") || strings.Contains(key, "factor")):
			cols.factor = i
		case cols.category < 0 && strings.Contains(key, "category"):
			cols.category = i
		case cols.name < 0 && (strings.Contains(key, "name") || key == "food" || key == "canonical" || key == "item"):
			cols.name = i
		}
	}

	if cols.name < 0 || cols.factor < 0 {
		return cols, ErrMissingColumns
	}
	return cols, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
