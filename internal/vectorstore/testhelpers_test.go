package vectorstore

import (
	"context"
	"hash/fnv"
)

// hashEmbedder maps text to a deterministic 8-dim vector.
type hashEmbedder struct {
	fixed map[string][]float32
}

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.fixed[text]; ok {
		return v, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum64()
	v := make([]float32, 8)
	for i := range v {
		v[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return v, nil
}

func (e *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
