package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Cell is a non-empty workbook cell addressed in A1 notation.
type Cell struct {
	Ref   string `json:"ref"`
	Row   int    `json:"row"` // zero-based
	Col   int    `json:"col"` // zero-based
	Value string `json:"value"`
}

// Sheet is one worksheet's non-empty cells in row-major order.
type Sheet struct {
	Name  string `json:"name"`
	Cells []Cell `json:"cells"`
}

// Row returns the cells on row r, left to right.
func (s Sheet) Row(r int) []Cell {
	var out []Cell
	for _, c := range s.Cells {
		if c.Row == r {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the cell at ref.
func (s Sheet) Lookup(ref string) (Cell, bool) {
	ref = strings.ToUpper(ref)
	for _, c := range s.Cells {
		if c.Ref == ref {
			return c, true
		}
	}
	return Cell{}, false
}

// ReadWorkbook parses XLSX bytes into sheets of formatted cell values.
func ReadWorkbook(data []byte) ([]Sheet, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheets := make([]Sheet, 0, len(f.Sheets))
	for _, sh := range f.Sheets {
		s := Sheet{Name: sh.Name}
		for r, row := range sh.Rows {
			if row == nil {
				continue
			}
			for c, cell := range row.Cells {
				if cell == nil {
					continue
				}
				v := strings.TrimSpace(cell.String())
				if v == "" {
					continue
				}
				s.Cells = append(s.Cells, Cell{
					Ref:   xlsx.GetCellIDStringFromCoords(c, r),
					Row:   r,
					Col:   c,
					Value: v,
				})
			}
		}
		sheets = append(sheets, s)
	}
	return sheets, nil
}

// Text renders sheets as tab-separated rows prefixed with cell refs, the
// form the extraction prompt receives.
func Text(sheets []Sheet) string {
	var b strings.Builder
	for _, s := range sheets {
		b.WriteString("## Sheet: ")
		b.WriteString(s.Name)
		b.WriteByte('\n')
		lastRow := -1
		for _, c := range s.Cells {
			if c.Row != lastRow {
				if lastRow >= 0 {
					b.WriteByte('\n')
				}
				lastRow = c.Row
			} else {
				b.WriteByte('\t')
			}
			b.WriteString(c.Ref)
			b.WriteString("=")
			b.WriteString(c.Value)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
