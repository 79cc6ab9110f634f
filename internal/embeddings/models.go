package embeddings

import "strings"

// knownDimensions lists output sizes of the models we ship configs for.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"intfloat/multilingual-e5-small":         384,
	"intfloat/multilingual-e5-base":          768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
}

// DimensionForModel returns the known dimension for model, guessing from
// the size suffix of unknown names.
func DimensionForModel(model string) (int, bool) {
	if d, ok := knownDimensions[model]; ok {
		return d, true
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024, false
	case strings.Contains(lower, "base"):
		return 768, false
	default:
		return 384, false
	}
}
