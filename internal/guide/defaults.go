package guide

import "github.com/sells-group/finrecon/internal/model"

// DefaultSynonyms is the built-in line item vocabulary. Company guides add
// to it and win on any overlapping synonym.
var DefaultSynonyms = map[string][]string{
	"arr":                {"arr", "annual recurring revenue", "annualized recurring revenue", "ending arr"},
	"mrr":                {"mrr", "monthly recurring revenue"},
	"net_new_arr":        {"net new arr", "nnarr", "net new annual recurring revenue"},
	"churned_arr":        {"churned arr", "arr churn", "lost arr"},
	"revenue":            {"revenue", "total revenue", "net revenue", "sales", "net sales", "turnover"},
	"cogs":               {"cogs", "cost of goods sold", "cost of revenue", "cost of sales"},
	"gross_profit":       {"gross profit"},
	"operating_expenses": {"operating expenses", "opex", "total operating expenses"},
	"total_expenses":     {"total expenses", "total costs", "total spend"},
	"ebitda":             {"ebitda", "adjusted ebitda"},
	"net_income":         {"net income", "net profit", "net loss", "net income loss"},
	"cash":               {"cash", "cash balance", "ending cash", "cash and cash equivalents", "cash on hand"},
	"burn_rate":          {"burn", "burn rate", "monthly burn", "net burn rate", "cash burn"},
	"headcount":          {"headcount", "fte", "ftes", "employees", "total headcount"},
	"customers":          {"customers", "customer count", "total customers", "logos"},
	"bookings":           {"bookings", "total bookings"},
}

// Default returns a guide carrying only the built-in vocabulary.
func Default(slug string) *model.CompanyGuide {
	return &model.CompanyGuide{
		Slug:                 slug,
		Currency:             "USD",
		FiscalYearStartMonth: 1,
		AmountScale:          1,
		Synonyms:             map[string][]string{},
	}
}
