package loader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/finrecon/internal/fetcher"
	"github.com/sells-group/finrecon/internal/model"
)

var fakePDF = []byte("%PDF-1.7\n%fake body\n")

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("P&L")
	require.NoError(t, err)
	row := sheet.AddRow()
	row.AddCell().SetString("Revenue")
	row.AddCell().SetString("1,000")
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestLoad_LocalPDF(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "Q2 2024 Board Deck.pdf", fakePDF)
	doc, err := New(Options{}).Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "Q2 2024 Board Deck.pdf", doc.Filename)
	assert.Equal(t, p, doc.Source)
	assert.Equal(t, model.FileTypePDF, doc.FileType)
	assert.Equal(t, fakePDF, doc.Data)
	assert.Len(t, doc.Hash, 64)
	assert.Nil(t, doc.Pages)

	renamed, err := New(Options{}).Load(context.Background(), writeFile(t, "copy.pdf", fakePDF))
	require.NoError(t, err)
	assert.Equal(t, doc.Hash, renamed.Hash)
}

func TestLoad_MagicBytes(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "export", workbook(t))
	doc, err := New(Options{}).Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.FileTypeXLSX, doc.FileType)

	p = writeFile(t, "scan.bin", fakePDF)
	doc, err = New(Options{}).Load(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.FileTypePDF, doc.FileType)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	l := New(Options{MaxBytes: 8})

	_, err := l.Load(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"))
	assert.Error(t, err)

	_, err = l.Load(context.Background(), writeFile(t, "big.pdf", fakePDF))
	assert.ErrorIs(t, err, fetcher.ErrTooLarge)

	_, err = New(Options{}).Load(context.Background(), writeFile(t, "notes.txt", []byte("hello")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = New(Options{}).Load(context.Background(), t.TempDir())
	assert.Error(t, err)

	_, err = New(Options{}).Load(context.Background(), "ftp://example.com/a.pdf")
	assert.ErrorContains(t, err, "no fetcher")
}

func TestLoad_HTTP(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/March%202024.pdf", r.URL.EscapedPath())
		w.Write(fakePDF) //nolint:errcheck
	}))
	defer ts.Close()

	l := New(Options{HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BackoffBase: time.Millisecond})})
	doc, err := l.Load(context.Background(), ts.URL+"/files/March%202024.pdf")
	require.NoError(t, err)
	assert.Equal(t, "March 2024.pdf", doc.Filename)
	assert.Equal(t, model.FileTypePDF, doc.FileType)
}

func TestPrepare_PDF(t *testing.T) {
	t.Parallel()

	m := new(mockOCR)
	m.On("ExtractPages", mock.Anything, fakePDF).Return([]string{"ARR 1.2m", "", "Burn 300k"}, nil).Once()

	l := New(Options{OCR: m})
	doc := &Document{Filename: "deck.pdf", FileType: model.FileTypePDF, Data: fakePDF}
	require.NoError(t, l.Prepare(context.Background(), doc))
	require.NoError(t, l.Prepare(context.Background(), doc))

	assert.True(t, doc.HasText())
	text := doc.Text()
	assert.Contains(t, text, "--- Page 1 ---\nARR 1.2m")
	assert.Contains(t, text, "--- Page 3 ---\nBurn 300k")
	m.AssertExpectations(t)
}

func TestPrepare_PDFTextFailureKeepsDocument(t *testing.T) {
	t.Parallel()

	m := new(mockOCR)
	m.On("ExtractPages", mock.Anything, mock.Anything).Return(nil, errors.New("pdftotext: exit status 1"))

	doc := &Document{Filename: "scan.pdf", FileType: model.FileTypePDF, Data: fakePDF}
	require.NoError(t, New(Options{OCR: m}).Prepare(context.Background(), doc))
	assert.False(t, doc.HasText())
	assert.Empty(t, doc.Text())
}

func TestPrepare_XLSX(t *testing.T) {
	t.Parallel()

	doc := &Document{Filename: "model.xlsx", FileType: model.FileTypeXLSX, Data: workbook(t)}
	require.NoError(t, New(Options{}).Prepare(context.Background(), doc))
	require.Len(t, doc.Sheets, 1)
	assert.True(t, doc.HasText())
	assert.Contains(t, doc.Text(), "A1=Revenue\tB1=1,000")

	bad := &Document{Filename: "broken.xlsx", FileType: model.FileTypeXLSX, Data: []byte("PK\x03\x04junk")}
	assert.Error(t, New(Options{}).Prepare(context.Background(), bad))
}

func TestDetectType(t *testing.T) {
	t.Parallel()

	ft, err := DetectType("a.PDF", nil)
	require.NoError(t, err)
	assert.Equal(t, model.FileTypePDF, ft)

	_, err = DetectType("a.docx", []byte("hello"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
