// Package snippet renders audit images that tie each extracted number back
// to the region of the source file it came from.
package snippet

import (
	"context"
	"math"
	"regexp"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/finrecon/internal/loader"
	"github.com/sells-group/finrecon/internal/model"
	"github.com/sells-group/finrecon/internal/telemetry"
)

// Stats counts Attach outcomes per fact.
type Stats struct {
	Rendered int `json:"rendered"`
	Reused   int `json:"reused"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Generator renders and stores one snippet per distinct source location.
type Generator struct {
	renderer Renderer
	storage  Storage
	metrics  *telemetry.Metrics
}

// NewGenerator creates a Generator. metrics may be nil.
func NewGenerator(r Renderer, s Storage, metrics *telemetry.Metrics) *Generator {
	return &Generator{renderer: r, storage: s, metrics: metrics}
}

type group struct {
	loc     model.SourceLocation
	members []int
}

// Attach returns copies of facts with SnippetURL set. Facts sharing a
// location key share one render; PDF crops cover the union of their boxes.
// Failures leave the affected facts without a snippet.
func (g *Generator) Attach(ctx context.Context, doc *loader.Document, company string, facts []model.LineItemFact) ([]model.LineItemFact, Stats) {
	out := make([]model.LineItemFact, len(facts))
	copy(out, facts)

	var stats Stats
	var order []string
	groups := make(map[string]*group)
	for i, f := range out {
		if f.SourceLocation == nil || f.SourceLocation.IsZero() {
			stats.Skipped++
			continue
		}
		key := doc.Filename + "#" + f.SourceLocation.Key()
		grp, ok := groups[key]
		if !ok {
			loc := *f.SourceLocation
			loc.BBox = slices.Clone(loc.BBox)
			grp = &group{loc: loc}
			groups[key] = grp
			order = append(order, key)
		} else {
			grp.loc.BBox = union(grp.loc.BBox, f.SourceLocation.BBox)
		}
		grp.members = append(grp.members, i)
	}

	for _, key := range order {
		if ctx.Err() != nil {
			break
		}
		grp := groups[key]
		url, err := g.renderAndStore(ctx, doc, company, grp.loc)
		if err != nil {
			zap.L().Warn("snippet: render failed",
				zap.String("file", doc.Filename),
				zap.String("location", grp.loc.Key()),
				zap.Error(err),
			)
			stats.Failed += len(grp.members)
			g.metrics.Snippet(telemetry.SnippetFailed)
			continue
		}
		for _, i := range grp.members {
			out[i].SnippetURL = url
		}
		stats.Rendered++
		stats.Reused += len(grp.members) - 1
		g.metrics.Snippet(telemetry.SnippetRendered)
	}
	return out, stats
}

func (g *Generator) renderAndStore(ctx context.Context, doc *loader.Document, company string, loc model.SourceLocation) (string, error) {
	img, err := g.renderer.Render(ctx, doc, loc)
	if err != nil {
		return "", err
	}
	return g.storage.Put(ctx, ObjectKey(company, doc, loc), img)
}

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ObjectKey names a snippet: company/<hash prefix>/<location>.png.
func ObjectKey(company string, doc *loader.Document, loc model.SourceLocation) string {
	hash := doc.Hash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return unsafeKey.ReplaceAllString(company, "-") + "/" + hash + "/" + unsafeKey.ReplaceAllString(loc.Key(), "-") + ".png"
}

func union(a, b []float64) []float64 {
	if len(a) != 4 {
		return b
	}
	if len(b) != 4 {
		return a
	}
	return []float64{
		math.Min(a[0], b[0]), math.Min(a[1], b[1]),
		math.Max(a[2], b[2]), math.Max(a[3], b[3]),
	}
}
