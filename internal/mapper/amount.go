package mapper

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

var suffixScale = map[string]decimal.Decimal{
	"k":  decimal.NewFromInt(1_000),
	"m":  decimal.NewFromInt(1_000_000),
	"mm": decimal.NewFromInt(1_000_000),
	"bn": decimal.NewFromInt(1_000_000_000),
	"b":  decimal.NewFromInt(1_000_000_000),
}

var hundred = decimal.NewFromInt(100)

// ParseAmount parses an amount as reported in a financial document.
// It understands currency symbols and codes, thousands separators,
// accounting negatives "(1,200)", trailing minus, percentages (returned
// as ratios, with percent true) and k/m/bn magnitude suffixes.
func ParseAmount(raw string) (value decimal.Decimal, percent bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false, eris.New("mapper: empty amount")
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "-") && len(s) > 1 {
		negative = !negative
		s = strings.TrimSpace(s[:len(s)-1])
	}

	for _, code := range []string{"USD", "EUR", "GBP", "CAD", "AUD", "US$", "$", "€", "£", "¥"} {
		s = strings.ReplaceAll(s, code, "")
		s = strings.ReplaceAll(s, strings.ToLower(code), "")
	}
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "−", "-")

	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSuffix(s, "%")
	}

	scale := decimal.NewFromInt(1)
	if !percent {
		lower := strings.ToLower(s)
		for _, suffix := range []string{"bn", "mm", "k", "m", "b"} {
			if strings.HasSuffix(lower, suffix) {
				scale = suffixScale[suffix]
				s = s[:len(s)-len(suffix)]
				break
			}
		}
	}

	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if s == "" || strings.ContainsAny(s, "+-") {
		return decimal.Zero, false, eris.Errorf("mapper: unparseable amount %q", raw)
	}

	d, perr := decimal.NewFromString(s)
	if perr != nil {
		return decimal.Zero, false, eris.Wrapf(perr, "mapper: unparseable amount %q", raw)
	}
	d = d.Mul(scale)
	if percent {
		d = d.Div(hundred)
	}
	if negative {
		d = d.Neg()
	}
	return d, percent, nil
}
