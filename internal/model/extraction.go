package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
)

// FileType is the variant tag of an extraction result.
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeXLSX FileType = "xlsx"
)

// FileTypeFromName infers a file type from a filename extension.
func FileTypeFromName(name string) (FileType, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return FileTypePDF, true
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return FileTypeXLSX, true
	}
	return "", false
}

var validate = validator.New()

// RawAmount holds an amount exactly as the oracle reported it. The oracle
// may emit a JSON number or a formatted string such as "$1,200" or "(15.2)".
type RawAmount string

// UnmarshalJSON accepts numbers, strings, and null.
func (a *RawAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = RawAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return eris.Wrapf(err, "model: amount %s", string(data))
	}
	*a = RawAmount(n.String())
	return nil
}

// MarshalJSON emits plain numbers as JSON numbers and everything else as
// strings.
func (a RawAmount) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseFloat(string(a), 64); err == nil {
		return []byte(a), nil
	}
	return json.Marshal(string(a))
}

// PDFLineItem is a line item located on a PDF page.
type PDFLineItem struct {
	Label    string    `json:"label" validate:"required"`
	Value    RawAmount `json:"value"`
	Scenario string    `json:"scenario,omitempty"`
	Period   string    `json:"period,omitempty"`
	Page     int       `json:"page" validate:"gte=0"`
	BBox     []float64 `json:"bbox,omitempty" validate:"omitempty,len=4"`
}

// XLSXLineItem is a line item located in a workbook cell.
type XLSXLineItem struct {
	Label    string    `json:"label" validate:"required"`
	Value    RawAmount `json:"value"`
	Scenario string    `json:"scenario,omitempty"`
	Period   string    `json:"period,omitempty"`
	Sheet    string    `json:"sheet" validate:"required"`
	Cell     string    `json:"cell" validate:"required"`
}

// PDFExtraction is the PDF variant payload.
type PDFExtraction struct {
	LineItems []PDFLineItem `json:"line_items" validate:"dive"`
}

// XLSXExtraction is the XLSX variant payload.
type XLSXExtraction struct {
	LineItems []XLSXLineItem `json:"line_items" validate:"dive"`
}

// VarianceExplanation is a narrative reason a number moved.
type VarianceExplanation struct {
	LineItem    string `json:"line_item" validate:"required"`
	Period      string `json:"period,omitempty"`
	Scenario    string `json:"scenario,omitempty"`
	Explanation string `json:"explanation" validate:"required"`
}

// ExtractionResult is the structured output of the extraction oracle. It is
// a tagged variant: exactly the payload matching FileType is present.
type ExtractionResult struct {
	FileType             FileType              `json:"file_type" validate:"required,oneof=pdf xlsx"`
	Period               string                `json:"period,omitempty"`
	PeriodHints          []string              `json:"period_hints,omitempty"`
	Currency             string                `json:"currency,omitempty"`
	FinancialSummary     string                `json:"financial_summary,omitempty"`
	PDF                  *PDFExtraction        `json:"pdf,omitempty" validate:"required_if=FileType pdf"`
	XLSX                 *XLSXExtraction       `json:"xlsx,omitempty" validate:"required_if=FileType xlsx"`
	VarianceExplanations []VarianceExplanation `json:"variance_explanations,omitempty" validate:"dive"`
}

// Validate checks the variant invariants and field constraints.
func (r *ExtractionResult) Validate() error {
	if err := validate.Struct(r); err != nil {
		return eris.Wrap(err, "model: invalid extraction result")
	}
	if r.FileType == FileTypePDF && r.XLSX != nil {
		return eris.New("model: invalid extraction result: pdf result carries xlsx payload")
	}
	if r.FileType == FileTypeXLSX && r.PDF != nil {
		return eris.New("model: invalid extraction result: xlsx result carries pdf payload")
	}
	return nil
}

// LineItemCount returns the number of raw line items in the active variant.
func (r *ExtractionResult) LineItemCount() int {
	switch {
	case r.PDF != nil:
		return len(r.PDF.LineItems)
	case r.XLSX != nil:
		return len(r.XLSX.LineItems)
	}
	return 0
}

// ParseExtractionResult decodes and validates an extraction result.
func ParseExtractionResult(data []byte) (*ExtractionResult, error) {
	var r ExtractionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "model: decode extraction result")
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// CachedExtraction is an extraction result stored under its content hash.
type CachedExtraction struct {
	Fingerprint string            `json:"fingerprint"`
	Filename    string            `json:"filename"`
	Result      *ExtractionResult `json:"result"`
	CreatedAt   time.Time         `json:"created_at"`
}
