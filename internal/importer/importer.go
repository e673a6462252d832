package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const defaultBatchSize = 500

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported file type %q", filepath.Ext(path))
}

// Result summarises one import.
type Result struct {
	Format   Format     `json:"format"`
	RowsRead int        `json:"rowsRead"`
	Imported int        `json:"imported"`
	IDs      []string   `json:"ids,omitempty"`
	Errors   []RowError `json:"errors"`
	DryRun   bool       `json:"dryRun"`
}

type Importer struct {
	store     store.DocumentStore
	validate  *validator.Validate
	batchSize int
}

type Option func(*Importer)

// WithBatchSize sets how many rows go into one CreateMany call.
func WithBatchSize(n int) Option {
	return func(im *Importer) {
		if n > 0 {
			im.batchSize = n
		}
	}
}

func New(s store.DocumentStore, opts ...Option) *Importer {
	im := &Importer{
		store:     s,
		validate:  validator.New(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportFile reads path and creates one product per valid row. With dryRun
// the rows are parsed and validated but nothing is written.
func (im *Importer) ImportFile(ctx context.Context, path string, dryRun bool) (*Result, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return im.Import(ctx, f, format, dryRun)
}

func (im *Importer) Import(ctx context.Context, r io.Reader, format Format, dryRun bool) (*Result, error) {
	rows, rowErrs, err := ReadRows(r, format)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Format:   format,
		RowsRead: len(rows) + len(rowErrs),
		Errors:   rowErrs,
		DryRun:   dryRun,
	}

	valid := make([]Row, 0, len(rows))
	for _, row := range rows {
		if err := im.validate.Struct(row); err != nil {
			result.Errors = append(result.Errors, RowError{Line: row.Line, Error: validationMessage(err)})
			continue
		}
		valid = append(valid, row)
	}

	if dryRun {
		result.Imported = len(valid)
		return result, nil
	}

	if bulk, ok := im.store.(store.BulkCreator); ok {
		err = im.createBatches(ctx, bulk, valid, result)
	} else {
		err = im.createEach(ctx, valid, result)
	}

	log.Info().
		Str("format", string(format)).
		Int("rows", result.RowsRead).
		Int("imported", result.Imported).
		Int("rejected", len(result.Errors)).
		Msg("product import finished")

	return result, err
}

// createBatches writes rows through CreateMany. A failed batch aborts the
// import; batches written before it stay.
func (im *Importer) createBatches(ctx context.Context, bulk store.BulkCreator, rows []Row, result *Result) error {
	for start := 0; start < len(rows); start += im.batchSize {
		end := min(start+im.batchSize, len(rows))
		records := make([]store.Record, 0, end-start)
		for _, row := range rows[start:end] {
			records = append(records, repository.ProductRecord(row.Product()))
		}
		ids, err := bulk.CreateMany(ctx, store.Products, records)
		if err != nil {
			return fmt.Errorf("failed to import rows %d-%d: %w", rows[start].Line, rows[end-1].Line, err)
		}
		result.Imported += len(ids)
		result.IDs = append(result.IDs, ids...)
	}
	return nil
}

func (im *Importer) createEach(ctx context.Context, rows []Row, result *Result) error {
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := im.store.Create(ctx, store.Products, repository.ProductRecord(row.Product()))
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: row.Line, Error: err.Error()})
			continue
		}
		result.Imported++
		result.IDs = append(result.IDs, id)
	}
	return nil
}

// ReadRows parses every data row. Rows that fail to parse are returned as
// RowErrors; a missing or unknown header is an error.
func ReadRows(r io.Reader, format Format) ([]Row, []RowError, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatXLSX:
		records, err = readXLSX(r)
	default:
		return nil, nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, ErrNoHeader
	}

	idx, err := headerIndex(records[0])
	if err != nil {
		return nil, nil, err
	}

	var (
		rows    []Row
		rowErrs []RowError
	)
	for i, cells := range records[1:] {
		line := i + 2
		row, ok, err := parseRow(line, cells, idx)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Error: err.Error()})
			continue
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, rowErrs, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	return records, nil
}

// readXLSX reads the first sheet.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close xlsx")
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	defer rows.Close()

	var records [][]string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		records = append(records, cols)
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return records, nil
}
