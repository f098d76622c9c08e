package snippet

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"

	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
)

// ErrUnsupported is returned by a renderer that cannot handle a document
// type or location.
var ErrUnsupported = eris.New("snippet: unsupported location")

// Renderer produces a PNG for a location in a document.
type Renderer interface {
	Render(ctx context.Context, doc *loader.Document, loc model.SourceLocation) ([]byte, error)
}

// Chain tries each renderer in order and returns the first success.
type Chain []Renderer

// Render implements Renderer.
func (c Chain) Render(ctx context.Context, doc *loader.Document, loc model.SourceLocation) ([]byte, error) {
	var errs []error
	for _, r := range c {
		img, err := r.Render(ctx, doc, loc)
		if err == nil {
			return img, nil
		}
		errs = append(errs, err)
	}
	return nil, eris.Wrap(errors.Join(errs...), "snippet: no renderer succeeded")
}

// PageRasterizer renders a PDF page with poppler's pdftoppm and crops it to
// the location's bounding box.
type PageRasterizer struct {
	binPath string
	dpi     int
}

// NewPageRasterizer creates a rasterizer. Empty binPath means "pdftoppm".
func NewPageRasterizer(binPath string, dpi int) *PageRasterizer {
	if binPath == "" {
		binPath = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 110
	}
	return &PageRasterizer{binPath: binPath, dpi: dpi}
}

// Render implements Renderer.
func (p *PageRasterizer) Render(ctx context.Context, doc *loader.Document, loc model.SourceLocation) ([]byte, error) {
	if doc.FileType != model.FileTypePDF || loc.Page < 1 {
		return nil, ErrUnsupported
	}

	dir, err := os.MkdirTemp("", "finrecon-snippet-*")
	if err != nil {
		return nil, eris.Wrap(err, "snippet: temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, doc.Data, 0o600); err != nil {
		return nil, eris.Wrap(err, "snippet: write pdf")
	}
	prefix := filepath.Join(dir, "page")
	page := strconv.Itoa(loc.Page)

	cmd := exec.CommandContext(ctx, p.binPath,
		"-png", "-r", strconv.Itoa(p.dpi), "-f", page, "-l", page, "-singlefile", in, prefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, eris.Wrapf(err, "snippet: pdftoppm page %d: %s", loc.Page, bytes.TrimSpace(out))
	}

	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, eris.Wrap(err, "snippet: open raster")
	}
	defer f.Close() //nolint:errcheck
	img, err := png.Decode(f)
	if err != nil {
		return nil, eris.Wrap(err, "snippet: decode raster")
	}

	if len(loc.BBox) == 4 {
		img = crop(img, loc.BBox, float64(p.dpi)/72, 12)
	}
	return encode(img)
}

// crop cuts bbox (PDF points) out of img rendered at scale pixels per
// point, with pad pixels of margin. An empty intersection keeps the page.
func crop(img image.Image, bbox []float64, scale float64, pad int) image.Image {
	r := image.Rect(
		int(bbox[0]*scale)-pad, int(bbox[1]*scale)-pad,
		int(bbox[2]*scale)+pad, int(bbox[3]*scale)+pad,
	).Intersect(img.Bounds())
	if r.Empty() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "snippet: encode png")
	}
	return buf.Bytes(), nil
}
