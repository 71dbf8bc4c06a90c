// Package extract turns an uploaded document into pipeline documents.
package extract

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/fetcher"
	"github.com/sells-group/intellimesh/internal/model"
	"github.com/sells-group/intellimesh/internal/ocr"
	"github.com/sells-group/intellimesh/internal/runlog"
)

// Document titles assigned by format.
const (
	PDFTitle      = "Uploaded PDF"
	DocumentTitle = "Uploaded document"
)

// Extractor reads PDF, text, markdown and spreadsheet uploads. Remote
// locations are downloaded to a temporary file first.
type Extractor struct {
	pdf    ocr.Extractor
	remote fetcher.Fetcher
	log    runlog.Sink
}

// New creates an Extractor. A nil remote disables remote locations and a
// nil log discards output.
func New(pdf ocr.Extractor, remote fetcher.Fetcher, log runlog.Sink) *Extractor {
	if log == nil {
		log = runlog.Discard{}
	}
	return &Extractor{pdf: pdf, remote: remote, log: log}
}

// Extract returns the documents of the file at location. Every returned
// document has non-blank content and its URL set to location. Unknown
// formats and unreadable files are errors.
func (e *Extractor) Extract(ctx context.Context, location string) ([]model.Document, error) {
	e.log.Write(fmt.Sprintf("PDFLoader: Loading and chunking document: %s", location))

	local := location
	if fetcher.IsRemote(location) {
		tmp, err := e.download(ctx, location)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp) //nolint:errcheck
		local = tmp
	}

	var (
		docs []model.Document
		err  error
	)
	switch ext := extension(location); ext {
	case ".pdf":
		docs, err = e.extractPDF(ctx, local, location)
	case ".txt", ".md", ".markdown":
		docs, err = extractText(local, location)
	case ".xlsx":
		docs, err = extractWorkbook(local, location)
	default:
		return nil, eris.Errorf("extract: unsupported document type %q", ext)
	}
	if err != nil {
		return nil, err
	}

	e.log.Write(fmt.Sprintf("PDFLoader: Extracted %d sections.", len(docs)))
	zap.L().Debug("extract: document loaded",
		zap.String("location", location),
		zap.Int("sections", len(docs)),
	)
	return docs, nil
}

func (e *Extractor) download(ctx context.Context, location string) (string, error) {
	if e.remote == nil {
		return "", eris.Errorf("extract: remote documents are not enabled: %s", location)
	}
	f, err := os.CreateTemp("", "intellimesh-*"+extension(location))
	if err != nil {
		return "", eris.Wrap(err, "extract: create temp file")
	}
	name := f.Name()
	_ = f.Close()

	if _, err := e.remote.DownloadToFile(ctx, location, name); err != nil {
		_ = os.Remove(name)
		return "", eris.Wrapf(err, "extract: download %s", location)
	}
	return name, nil
}

func (e *Extractor) extractPDF(ctx context.Context, local, location string) ([]model.Document, error) {
	if e.pdf == nil {
		return nil, eris.New("extract: no PDF extractor configured")
	}
	pages, err := e.pdf.ExtractPages(ctx, local)
	if err != nil {
		return nil, eris.Wrap(err, "extract: pdf")
	}
	var docs []model.Document
	for _, page := range pages {
		if strings.TrimSpace(page) == "" {
			continue
		}
		docs = append(docs, model.Document{URL: location, Title: PDFTitle, Content: page})
	}
	return docs, nil
}

func extractText(local, location string) ([]model.Document, error) {
	data, err := os.ReadFile(local)
	if err != nil {
		return nil, eris.Wrap(err, "extract: read file")
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []model.Document{{URL: location, Title: DocumentTitle, Content: string(data)}}, nil
}

func extractWorkbook(local, location string) ([]model.Document, error) {
	sheets, err := fetcher.ReadWorkbook(local)
	if err != nil {
		return nil, eris.Wrap(err, "extract: xlsx")
	}
	var docs []model.Document
	for _, sh := range sheets {
		if len(sh.Rows) == 0 {
			continue
		}
		lines := make([]string, 0, len(sh.Rows)+1)
		lines = append(lines, "Sheet: "+sh.Name)
		for _, row := range sh.Rows {
			lines = append(lines, strings.Join(row, "\t"))
		}
		docs = append(docs, model.Document{
			URL:     location,
			Title:   DocumentTitle,
			Content: strings.Join(lines, "\n"),
		})
	}
	return docs, nil
}

// extension returns the lowercase extension of a local path or of the path
// component of a URL.
func extension(location string) string {
	p := location
	if fetcher.IsRemote(location) {
		if i := strings.IndexAny(p, "?#"); i >= 0 {
			p = p[:i]
		}
		return strings.ToLower(path.Ext(p))
	}
	return strings.ToLower(filepath.Ext(p))
}
