package snippet

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/sells-group/finrecon/internal/fetcher"
	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
)

const (
	cardMargin     = 10
	cardLineHeight = 16
	cardMaxChars   = 140
)

var highlight = color.RGBA{R: 0xff, G: 0xf1, B: 0x9c, A: 0xff}

// TextCard draws the extracted text around a location onto a plain image.
// It needs no external tools, so it backs up PageRasterizer and is the
// only renderer for workbooks.
type TextCard struct {
	// MaxLines caps PDF page text. Zero means 40.
	MaxLines int
	// ContextRows is how many workbook rows to show on each side. Zero
	// means 2.
	ContextRows int
}

type cardLine struct {
	text string
	mark bool
}

// Render implements Renderer.
func (t TextCard) Render(_ context.Context, doc *loader.Document, loc model.SourceLocation) ([]byte, error) {
	var lines []cardLine
	var err error
	switch doc.FileType {
	case model.FileTypePDF:
		lines, err = t.pageLines(doc, loc)
	case model.FileTypeXLSX:
		lines, err = t.sheetLines(doc, loc)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		return nil, err
	}
	return encode(drawCard(lines))
}

func (t TextCard) pageLines(doc *loader.Document, loc model.SourceLocation) ([]cardLine, error) {
	if loc.Page < 1 || loc.Page > len(doc.Pages) {
		return nil, eris.Wrapf(ErrUnsupported, "snippet: no text for page %d", loc.Page)
	}
	maxLines := t.MaxLines
	if maxLines <= 0 {
		maxLines = 40
	}
	lines := []cardLine{{text: fmt.Sprintf("%s, page %d", doc.Filename, loc.Page), mark: true}}
	for _, l := range strings.Split(doc.Pages[loc.Page-1], "\n") {
		l = strings.TrimRight(l, " \t\r")
		if strings.TrimSpace(l) == "" {
			continue
		}
		if len(lines) > maxLines {
			lines = append(lines, cardLine{text: "..."})
			break
		}
		lines = append(lines, cardLine{text: l})
	}
	return lines, nil
}

func (t TextCard) sheetLines(doc *loader.Document, loc model.SourceLocation) ([]cardLine, error) {
	var sheet *fetcher.Sheet
	for i := range doc.Sheets {
		if doc.Sheets[i].Name == loc.Sheet {
			sheet = &doc.Sheets[i]
			break
		}
	}
	if sheet == nil {
		return nil, eris.Wrapf(ErrUnsupported, "snippet: sheet %q not found", loc.Sheet)
	}
	target, ok := sheet.Lookup(loc.Cell)
	if !ok {
		return nil, eris.Wrapf(ErrUnsupported, "snippet: cell %s!%s is empty", loc.Sheet, loc.Cell)
	}

	ctxRows := t.ContextRows
	if ctxRows <= 0 {
		ctxRows = 2
	}
	lines := []cardLine{{text: fmt.Sprintf("%s, %s!%s", doc.Filename, loc.Sheet, target.Ref), mark: true}}
	for r := max(0, target.Row-ctxRows); r <= target.Row+ctxRows; r++ {
		cells := sheet.Row(r)
		if len(cells) == 0 {
			continue
		}
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = c.Ref + "=" + c.Value
		}
		lines = append(lines, cardLine{text: strings.Join(parts, "  "), mark: r == target.Row})
	}
	return lines, nil
}

func drawCard(lines []cardLine) image.Image {
	face := basicfont.Face7x13
	width := 0
	for i := range lines {
		if len(lines[i].text) > cardMaxChars {
			lines[i].text = lines[i].text[:cardMaxChars-3] + "..."
		}
		if w := font.MeasureString(face, lines[i].text).Ceil(); w > width {
			width = w
		}
	}
	bounds := image.Rect(0, 0, width+2*cardMargin, len(lines)*cardLineHeight+2*cardMargin)
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, image.White, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.Black, Face: face}
	for i, l := range lines {
		top := cardMargin + i*cardLineHeight
		if l.mark {
			band := image.Rect(0, top, bounds.Dx(), top+cardLineHeight)
			draw.Draw(img, band, image.NewUniform(highlight), image.Point{}, draw.Src)
		}
		d.Dot = fixed.P(cardMargin, top+cardLineHeight-4)
		d.DrawString(l.text)
	}
	return img
}
