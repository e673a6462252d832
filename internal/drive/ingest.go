package drive

import (
	"context"
	"errors"
	"io"

	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/rs/zerolog/log"
)

var ErrFolderNotFound = errors.New("drive folder not found")

// Source is the part of the Drive API the ingester needs.
type Source interface {
	ListFiles(ctx context.Context, folderID string) ([]*File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	FindFolderByPath(ctx context.Context, path string) (string, error)
}

// ProductImporter receives each downloaded sheet.
type ProductImporter interface {
	ImportProducts(ctx context.Context, r io.Reader, format importer.Format, dryRun bool) (*importer.Result, error)
}

// FileResult is the outcome of importing one Drive file.
type FileResult struct {
	File   *File            `json:"file"`
	Result *importer.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// IngestRequest names the folder by id or by path from the drive root.
type IngestRequest struct {
	FolderID   string `json:"folderId"`
	FolderPath string `json:"path"`
	DryRun     bool   `json:"dryRun"`
}

type Ingester struct {
	source        Source
	importer      ProductImporter
	defaultFolder string
}

// NewIngester reads from defaultFolder when a request names no folder.
func NewIngester(source Source, imp ProductImporter, defaultFolder string) *Ingester {
	return &Ingester{source: source, importer: imp, defaultFolder: defaultFolder}
}

// Files lists the importable files of a folder.
func (i *Ingester) Files(ctx context.Context, req IngestRequest) ([]*File, error) {
	folderID, err := i.folder(ctx, req)
	if err != nil {
		return nil, err
	}
	files, err := i.source.ListFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}

	out := make([]*File, 0, len(files))
	for _, f := range files {
		if _, err := importer.FormatFromPath(f.Name); err == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// Ingest imports every CSV and XLSX file of the folder. A file that fails
// to download or parse is reported and the rest continue.
func (i *Ingester) Ingest(ctx context.Context, req IngestRequest) ([]FileResult, error) {
	files, err := i.Files(ctx, req)
	if err != nil {
		return nil, err
	}

	results := make([]FileResult, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := FileResult{File: f}
		result, err := i.ingestFile(ctx, f, req.DryRun)
		res.Result = result
		if err != nil {
			res.Error = err.Error()
			log.Warn().Err(err).Str("file", f.Name).Msg("drive: file import failed")
		}
		results = append(results, res)
	}

	log.Info().Int("files", len(results)).Bool("dry_run", req.DryRun).Msg("drive: folder ingested")
	return results, nil
}

func (i *Ingester) ingestFile(ctx context.Context, f *File, dryRun bool) (*importer.Result, error) {
	format, err := importer.FormatFromPath(f.Name)
	if err != nil {
		return nil, err
	}
	body, err := i.source.Download(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return i.importer.ImportProducts(ctx, body, format, dryRun)
}

func (i *Ingester) folder(ctx context.Context, req IngestRequest) (string, error) {
	switch {
	case req.FolderID != "":
		return req.FolderID, nil
	case req.FolderPath != "":
		return i.source.FindFolderByPath(ctx, req.FolderPath)
	}
	return i.defaultFolder, nil
}
