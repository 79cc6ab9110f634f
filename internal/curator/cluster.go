package curator

import (
	"context"
	"fmt"
	"math"

	"github.com/fyrsmithlabs/mirroragent/internal/mirror"
)

// group is a set of interactions asking the same question. Its size is
// the question's observed frequency.
type group struct {
	key     string
	members []*mirror.Interaction
	vectors [][]float32
	// vector is the embedding of the best member's question.
	vector []float32
}

// best returns the member with the highest confidence, earliest first on ties.
func (g *group) best() *mirror.Interaction {
	b := g.members[0]
	for _, m := range g.members[1:] {
		if m.Confidence > b.Confidence {
			b = m
		}
	}
	return b
}

func (g *group) add(in *mirror.Interaction, vec []float32) {
	g.members = append(g.members, in)
	g.vectors = append(g.vectors, vec)
	for i, m := range g.members {
		if m == g.best() {
			g.vector = g.vectors[i]
			return
		}
	}
}

// group embeds every question once and clusters greedily: an interaction
// joins the first group whose seed question has the same normalized text
// or a cosine of at least SimilarQuestion.
func (c *Curator) group(ctx context.Context, interactions []*mirror.Interaction) ([]*group, error) {
	texts := make([]string, len(interactions))
	for i, in := range interactions {
		texts[i] = in.Question
	}
	vecs, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, mirror.Unavailable("embeddings", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d questions", len(vecs), len(texts))
	}

	var groups []*group
	for i, in := range interactions {
		key := NormalizeQuestion(in.Question)
		var target *group
		for _, g := range groups {
			if g.key == key || roundScore(cosine(g.vectors[0], vecs[i])) >= c.cfg.SimilarQuestion {
				target = g
				break
			}
		}
		if target == nil {
			target = &group{key: key}
			groups = append(groups, target)
		}
		target.add(in, vecs[i])
	}
	sortGroups(groups)
	return groups, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func roundScore(s float64) float64 {
	return math.Round(s*1e6) / 1e6
}
