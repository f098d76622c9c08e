package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
)

const systemPrompt = `You extract financial line items from company reporting documents
(board decks, monthly investor updates, budgets, financial models).

Return ONE JSON object and nothing else:

{
  "file_type": "pdf" | "xlsx",
  "period": "<the reporting period as written, e.g. \"Q2 2024\", \"March 2024\">",
  "period_hints": ["<other period phrases seen in titles or headers>"],
  "currency": "<ISO code if stated>",
  "financial_summary": "<two sentences>",
  "pdf":  {"line_items": [{"label": "", "value": 0, "scenario": "", "period": "", "page": 1, "bbox": [x0, y0, x1, y1]}]},
  "xlsx": {"line_items": [{"label": "", "value": 0, "scenario": "", "period": "", "sheet": "", "cell": "B7"}]},
  "variance_explanations": [{"line_item": "", "period": "", "scenario": "", "explanation": ""}]
}

Rules:
- Include exactly one of "pdf" or "xlsx", matching file_type.
- label is the row label exactly as printed.
- value is the number as printed; keep signs, parentheses, %, and k/m/bn suffixes.
- scenario is "actual", "budget" or "forecast" when the column or section says so; omit otherwise.
- period on a line item only when it differs from the document period (e.g. monthly columns).
- For PDFs, page is 1-based; bbox is in PDF points from the top-left of the page, omit when unknown.
- For workbooks, cell is the A1 reference of the value cell, not the label.
- variance_explanations only for narrative text that explains why a number moved.
- Do not compute or infer numbers that are not printed.`

func userPrompt(doc *loader.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\nfile_type: %s\n\n", doc.Filename, doc.FileType)
	switch {
	case doc.FileType == model.FileTypePDF && !doc.HasText():
		b.WriteString("The attached PDF has no text layer; read it directly.\n")
	default:
		b.WriteString("Document content:\n\n")
		b.WriteString(doc.Text())
	}
	return b.String()
}

// cleanJSON pulls the JSON object out of a response that may carry markdown
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
