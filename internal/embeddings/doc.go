// Package embeddings turns questions and page chunks into vectors.
//
// Providers:
//   - fastembed: local ONNX models via fastembed-go (cgo builds only)
//   - tei: a HuggingFace Text Embeddings Inference server
//   - openai: any OpenAI-compatible /embeddings endpoint via langchaingo
//
// All providers satisfy vectorstore.Embedder.
package embeddings
