package reconcile

import (
	"path"
	"strings"
	"unicode"

	"github.com/sells-group/finrecon/internal/mapper"
	"github.com/sells-group/finrecon/internal/model"
)

// PriorityFunc ranks a source file for a scenario. Higher wins.
type PriorityFunc func(filename string, scenario model.Scenario) int

// Default priority tiers, compared only between facts of the same scenario.
const (
	PriorityPreliminary = 1
	PriorityStandard    = 2
	PriorityFinal       = 3
	PriorityAudited     = 4
)

var (
	auditedWords     = []string{"audited", "audit"}
	finalWords       = []string{"final", "closed", "close", "signed"}
	preliminaryWords = []string{"prelim", "preliminary", "draft", "flash", "estimate", "estimated", "wip"}
	reforecastWords  = []string{"reforecast", "rf", "refcst", "rfc", "updated", "latest"}
	approvedWords    = []string{"approved", "final", "board"}
)

// DefaultPriority ranks a file from keywords in its name.
//
//	actual:   audited 4 > final 3 > standard 2 > preliminary 1
//	forecast: reforecast 2 > forecast 1
//	budget:   approved 2 > budget 1 > draft 0
func DefaultPriority(filename string, scenario model.Scenario) int {
	words := nameWords(filename)
	switch scenario {
	case model.ScenarioForecast:
		if words.any(reforecastWords) {
			return 2
		}
		return 1
	case model.ScenarioBudget:
		switch {
		case words.any(preliminaryWords):
			return 0
		case words.any(approvedWords):
			return 2
		}
		return 1
	default:
		switch {
		case words.any(auditedWords) && !words.has("unaudited"):
			return PriorityAudited
		case words.any(preliminaryWords):
			return PriorityPreliminary
		case words.any(finalWords):
			return PriorityFinal
		}
		return PriorityStandard
	}
}

// GuidePriority consults the guide's file patterns before falling back to
// DefaultPriority.
func GuidePriority(g *model.CompanyGuide) PriorityFunc {
	return func(filename string, scenario model.Scenario) int {
		if fp, ok := mapper.FilePattern(g, filename); ok && fp.Priority != nil {
			return *fp.Priority
		}
		return DefaultPriority(filename, scenario)
	}
}

type wordSet map[string]struct{}

func nameWords(filename string) wordSet {
	base := strings.ToLower(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	base = strings.TrimSuffix(base, path.Ext(base))
	set := make(wordSet)
	for _, w := range strings.FieldsFunc(base, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

func (s wordSet) has(w string) bool {
	_, ok := s[w]
	return ok
}

func (s wordSet) any(words []string) bool {
	for _, w := range words {
		if s.has(w) {
			return true
		}
	}
	return false
}
