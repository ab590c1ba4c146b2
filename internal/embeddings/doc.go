// Package embeddings turns text into unit-length vectors.
//
// Two providers are available: FastEmbed runs ONNX models in process
// (all-MiniLM-L6-v2 by default) and OpenAI embeds through any
// OpenAI-compatible endpoint via langchaingo. Callers use Embedder, which
// builds the provider on first use, L2-normalizes every vector and records
// generation metrics.
package embeddings
