// Package period turns free-text period descriptions and filenames into
// canonical month buckets ("YYYY-MM-01").
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical period format.
const Layout = "2006-01-02"

type matcher struct {
	name string
	re   *regexp.Regexp
	// build returns the canonical period for a submatch, or false when the
	// captured values are out of range.
	build func(m []string) (string, bool)
}

var months = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Digit runs are bounded by explicit non-digit classes instead of \b so
// that underscores in filenames ("Budget_2024_v2") still separate tokens.
var matchers = []matcher{
	{
		name: "annual_budget",
		re:   regexp.MustCompile(`(?i)(?:^|[^0-9])(\d{4})[\s_-]*annual[\s_-]*budget`),
		build: func(m []string) (string, bool) {
			return yearStart(m[1])
		},
	},
	{
		name: "budget_year",
		re:   regexp.MustCompile(`(?i)budget[\s_-]*(?:fy)?[\s_-]*(\d{4})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			return yearStart(m[1])
		},
	},
	{
		name: "quarter",
		re:   regexp.MustCompile(`(?i)(?:^|[^a-z0-9])q([1-4])[\s_-]*(?:fy)?[\s_'-]*(\d{4})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			return quarterStart(m[2], m[1])
		},
	},
	{
		name: "year_quarter",
		re:   regexp.MustCompile(`(?i)(?:^|[^0-9])(\d{4})[\s_-]*q([1-4])(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			return quarterStart(m[1], m[2])
		},
	},
	{
		name: "month_name",
		re: regexp.MustCompile(`(?i)(?:^|[^a-z])(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)` +
			`[\s_.,-]*(\d{4})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			month := months[strings.ToLower(m[1][:3])]
			return monthStart(m[2], month)
		},
	},
	{
		name: "iso",
		re:   regexp.MustCompile(`(?:^|[^0-9])(\d{4})-(\d{1,2})(?:-(\d{1,2}))?(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			month, _ := strconv.Atoi(m[2])
			if m[3] != "" {
				day, _ := strconv.Atoi(m[3])
				year, _ := strconv.Atoi(m[1])
				if !validDate(year, month, day) {
					return "", false
				}
			}
			return monthStart(m[1], month)
		},
	},
	{
		name: "yyyymm",
		re:   regexp.MustCompile(`(?:^|[^0-9])(\d{4})(\d{2})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			year, _ := strconv.Atoi(m[1])
			if year < 2000 || year > 2100 {
				return "", false
			}
			month, _ := strconv.Atoi(m[2])
			return monthStart(m[1], month)
		},
	},
	{
		name: "yyyymmdd",
		re:   regexp.MustCompile(`(?:^|[^0-9])(\d{4})(\d{2})(\d{2})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			year, _ := strconv.Atoi(m[1])
			month, _ := strconv.Atoi(m[2])
			day, _ := strconv.Atoi(m[3])
			if year < 2000 || year > 2099 || !validDate(year, month, day) {
				return "", false
			}
			return monthStart(m[1], month)
		},
	},
	{
		name: "fiscal_year",
		re:   regexp.MustCompile(`(?i)(?:^|[^a-z])fy[\s_'-]*(\d{4}|\d{2})(?:[^0-9]|$)`),
		build: func(m []string) (string, bool) {
			if len(m[1]) == 2 {
				return yearStart("20" + m[1])
			}
			return yearStart(m[1])
		},
	},
}

// Resolve applies the ordered patterns to text and returns the first
// match's canonical period. A pattern whose captured values are out of
// range does not stop later patterns from matching.
func Resolve(text string) (string, bool) {
	p, _, ok := resolve(text)
	return p, ok
}

// Match is like Resolve but also names the pattern that matched.
func Match(text string) (period, pattern string, ok bool) {
	return resolve(text)
}

func resolve(text string) (string, string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", "", false
	}
	for _, m := range matchers {
		if p, ok := m.scan(text); ok {
			return p, m.name, true
		}
	}
	return "", "", false
}

// scan walks every candidate match. Each search resumes on the last byte
// of the previous match so a shared separator ("_202413_202402") can bound
// both candidates.
func (m matcher) scan(text string) (string, bool) {
	for start := 0; start < len(text); {
		loc := m.re.FindStringSubmatchIndex(text[start:])
		if loc == nil {
			return "", false
		}
		sub := make([]string, len(loc)/2)
		for i := range sub {
			if loc[2*i] >= 0 {
				sub[i] = text[start+loc[2*i] : start+loc[2*i+1]]
			}
		}
		if p, ok := m.build(sub); ok {
			return p, true
		}
		next := start + loc[1] - 1
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return "", false
}

// Source names where a resolved period came from.
type Source string

const (
	SourceExtraction Source = "extraction"
	SourceHint       Source = "hint"
	SourceFilename   Source = "filename"
	SourceFallback   Source = "fallback"
)

// Resolution is the outcome of resolving a file's period.
type Resolution struct {
	Period string
	Source Source
}

// ResolveFile tries the extraction's reported period, then any hints,
// then the filename. ok is false when none resolve; callers then use
// Fallback.
func ResolveFile(reported string, hints []string, filename string) (Resolution, bool) {
	if p, ok := Resolve(reported); ok {
		return Resolution{Period: p, Source: SourceExtraction}, true
	}
	for _, h := range hints {
		if p, ok := Resolve(h); ok {
			return Resolution{Period: p, Source: SourceHint}, true
		}
	}
	if p, ok := Resolve(filename); ok {
		return Resolution{Period: p, Source: SourceFilename}, true
	}
	return Resolution{}, false
}

// Fallback returns the first day of now's month.
func Fallback(now time.Time) Resolution {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Resolution{Period: first.Format(Layout), Source: SourceFallback}
}

// Valid reports whether p is a canonical period.
func Valid(p string) bool {
	t, err := time.Parse(Layout, p)
	return err == nil && t.Day() == 1
}

func yearStart(year string) (string, bool) {
	return monthStart(year, 1)
}

func quarterStart(year, quarter string) (string, bool) {
	q, _ := strconv.Atoi(quarter)
	return monthStart(year, (q-1)*3+1)
}

func monthStart(year string, month int) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil || y < 1900 || y > 2199 || month < 1 || month > 12 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-01", y, month), true
}

func validDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day && int(t.Month()) == month
}
