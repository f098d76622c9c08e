// Package loader reads source files from disk or remote hosts and prepares
// their text for extraction.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/cache"
	"github.com/sells-group/finrecon/internal/fetcher"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/ocr"
)

// ErrUnsupportedType is returned for files that are neither PDF nor XLSX.
var ErrUnsupportedType = eris.New("loader: unsupported file type")

// Document is one loaded source file.
type Document struct {
	// Filename is the base name, used in facts and snapshots.
	Filename string
	// Source is the path or URL the file was read from.
	Source   string
	FileType model.FileType
	Data     []byte
	// Hash is the content fingerprint of Data.
	Hash string

	// Populated by Prepare. Pages[i] holds page i+1.
	Pages    []string
	Sheets   []fetcher.Sheet
	prepared bool
}

// Text returns the document text the extraction prompt receives.
func (d *Document) Text() string {
	if d.FileType == model.FileTypeXLSX {
		return fetcher.Text(d.Sheets)
	}
	var b strings.Builder
	for i, p := range d.Pages {
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n\n", i+1, strings.TrimSpace(p))
	}
	return b.String()
}

// HasText reports whether Prepare produced any non-blank text.
func (d *Document) HasText() bool {
	for _, p := range d.Pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	for _, s := range d.Sheets {
		if len(s.Cells) > 0 {
			return true
		}
	}
	return false
}

// Loader resolves file paths to Documents.
type Loader struct {
	http     fetcher.Fetcher
	ftp      fetcher.Fetcher
	ocr      ocr.Extractor
	maxBytes int64
}

// Options configures a Loader. Nil fetchers disable their schemes.
type Options struct {
	HTTP     fetcher.Fetcher
	FTP      fetcher.Fetcher
	OCR      ocr.Extractor
	MaxBytes int64
}

// New creates a Loader.
func New(opts Options) *Loader {
	return &Loader{http: opts.HTTP, ftp: opts.FTP, ocr: opts.OCR, maxBytes: opts.MaxBytes}
}

// Load reads the file at p (local path, http(s) or ftp URL) and detects its
// type. Text extraction is deferred to Prepare so cache hits skip OCR.
func (l *Loader) Load(ctx context.Context, p string) (*Document, error) {
	data, name, err := l.read(ctx, p)
	if err != nil {
		return nil, err
	}
	ft, err := DetectType(name, data)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: %s", name)
	}
	return &Document{Filename: name, Source: p, FileType: ft, Data: data, Hash: cache.Fingerprint(data)}, nil
}

// Prepare extracts page text (PDF) or cells (XLSX). A PDF whose text layer
// cannot be read is left without pages; the oracle then receives the raw
// document instead. Prepare is a no-op on a prepared document.
func (l *Loader) Prepare(ctx context.Context, doc *Document) error {
	if doc.prepared {
		return nil
	}
	switch doc.FileType {
	case model.FileTypeXLSX:
		sheets, err := fetcher.ReadWorkbook(doc.Data)
		if err != nil {
			return eris.Wrapf(err, "loader: parse %s", doc.Filename)
		}
		doc.Sheets = sheets
	case model.FileTypePDF:
		if l.ocr == nil {
			break
		}
		pages, err := l.ocr.ExtractPages(ctx, doc.Data)
		if err != nil {
			if ctx.Err() != nil {
				return eris.Wrapf(ctx.Err(), "loader: extract text %s", doc.Filename)
			}
			zap.L().Warn("loader: pdf text extraction failed, sending raw document",
				zap.String("file", doc.Filename),
				zap.Error(err),
			)
			break
		}
		doc.Pages = pages
	}
	doc.prepared = true
	return nil
}

func (l *Loader) read(ctx context.Context, p string) ([]byte, string, error) {
	u, err := url.Parse(p)
	if err == nil {
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
			return l.fetch(ctx, l.http, p, u)
		case "ftp":
			return l.fetch(ctx, l.ftp, p, u)
		}
	}

	info, err := os.Stat(p)
	if err != nil {
		return nil, "", eris.Wrapf(err, "loader: stat %s", p)
	}
	if info.IsDir() {
		return nil, "", eris.Errorf("loader: %s is a directory", p)
	}
	if l.maxBytes > 0 && info.Size() > l.maxBytes {
		return nil, "", eris.Wrapf(fetcher.ErrTooLarge, "loader: %s is %d bytes", p, info.Size())
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, "", eris.Wrapf(err, "loader: read %s", p)
	}
	return data, filepath.Base(p), nil
}

func (l *Loader) fetch(ctx context.Context, f fetcher.Fetcher, raw string, u *url.URL) ([]byte, string, error) {
	if f == nil {
		return nil, "", eris.Errorf("loader: no fetcher for scheme %q", u.Scheme)
	}
	data, err := fetcher.ReadAll(ctx, f, raw, l.maxBytes)
	if err != nil {
		return nil, "", eris.Wrapf(err, "loader: fetch %s", raw)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	return data, name, nil
}

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte("PK\x03\x04")
)

// DetectType picks the file type from the extension, then from magic bytes.
func DetectType(name string, data []byte) (model.FileType, error) {
	if ft, ok := model.FileTypeFromName(name); ok {
		return ft, nil
	}
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		return model.FileTypePDF, nil
	case bytes.HasPrefix(data, zipMagic):
		return model.FileTypeXLSX, nil
	}
	return "", ErrUnsupportedType
}
