// Package guide loads per-company schemas and resolves raw labels to
// canonical line item ids.
package guide

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/pkg/notion"
)

// ErrNotFound is returned when a source has no guide for a company.
var ErrNotFound = eris.New("guide: not found")

// Source loads company guides.
type Source interface {
	Load(ctx context.Context, slug string) (*model.CompanyGuide, error)
}

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// FileSource reads guides from <Dir>/<slug>.yaml (or .yml).
type FileSource struct {
	Dir string
}

// Load implements Source.
func (s FileSource) Load(_ context.Context, slug string) (*model.CompanyGuide, error) {
	if !slugRe.MatchString(slug) {
		return nil, eris.Errorf("guide: invalid company slug %q", slug)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		data, err := os.ReadFile(filepath.Join(s.Dir, slug+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, eris.Wrapf(err, "guide: read %s", slug)
		}
		return Parse(data, slug)
	}
	return nil, eris.Wrapf(ErrNotFound, "guide: %s in %s", slug, s.Dir)
}

// Parse decodes a YAML guide. The slug fills in when the document omits it.
func Parse(data []byte, slug string) (*model.CompanyGuide, error) {
	g := Default(slug)
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, eris.Wrapf(err, "guide: parse %s", slug)
	}
	if g.Slug == "" {
		g.Slug = slug
	}
	if g.Synonyms == nil {
		g.Synonyms = map[string][]string{}
	}
	for _, fp := range g.FilePatterns {
		if _, err := filepath.Match(fp.Pattern, ""); err != nil {
			return nil, eris.Wrapf(err, "guide: %s: bad file pattern %q", slug, fp.Pattern)
		}
	}
	return g, nil
}

// NotionSource reads line item synonyms from a Notion database with the
// properties "Line Item" (title, canonical id), "Company" (select, slug or
// "*"), "Synonyms" (rich text, comma separated) and "Active" (checkbox).
type NotionSource struct {
	Client notion.Client
	DBID   string
}

// Load implements Source.
func (s NotionSource) Load(ctx context.Context, slug string) (*model.CompanyGuide, error) {
	pages, err := notion.QueryGuideRows(ctx, s.Client, s.DBID, slug)
	if err != nil {
		return nil, eris.Wrap(err, "guide: load from notion")
	}

	g := Default(slug)
	companyRows := 0
	for _, p := range pages {
		id, synonyms, company, active := parseGuideRow(p)
		if id == "" || !active {
			continue
		}
		if company == slug {
			companyRows++
		}
		g.Synonyms[id] = append(g.Synonyms[id], synonyms...)
	}
	if companyRows == 0 {
		return nil, eris.Wrapf(ErrNotFound, "guide: %s in notion", slug)
	}
	return g, nil
}

func parseGuideRow(p notionapi.Page) (id string, synonyms []string, company string, active bool) {
	active = true
	if prop, ok := p.Properties["Line Item"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			id = notion.PlainText(tp.Title)
		}
	}
	if prop, ok := p.Properties["Synonyms"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			synonyms = SplitSynonyms(notion.PlainText(rtp.RichText))
		}
	}
	if prop, ok := p.Properties["Company"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			company = sp.Select.Name
		}
	}
	if prop, ok := p.Properties["Active"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			active = cp.Checkbox
		}
	}
	return id, synonyms, company, active
}

// LoadOrDefault loads a guide and falls back to the built-in vocabulary
// when the source has none or fails. The returned warning is empty when
// the company's own guide was used.
func LoadOrDefault(ctx context.Context, src Source, slug string) (*model.CompanyGuide, string) {
	if src == nil {
		return Default(slug), "no guide source configured; using built-in line items"
	}
	g, err := src.Load(ctx, slug)
	if err == nil {
		return g, ""
	}
	if errors.Is(err, ErrNotFound) {
		zap.L().Warn("guide: no company guide, using defaults", zap.String("company", slug))
		return Default(slug), "no company guide found; using built-in line items"
	}
	zap.L().Warn("guide: load failed, using defaults", zap.String("company", slug), zap.Error(err))
	return Default(slug), "company guide unavailable; using built-in line items"
}
