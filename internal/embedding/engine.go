// Package embedding provides vector embedding generation for the
// personalization pipeline. Supports a deterministic local engine, Ollama
// (local server) and Google GenAI (cloud). All vectors for a user corpus
// share one dimension for the corpus lifetime; changing provider requires a
// re-embed migration, not a config flip.
package embedding

import (
	"context"
	"fmt"
	"math"

	"mnemos/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// availability before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "local", "ollama" or "genai"
	Provider string

	LocalDimensions int

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.Embedding("Creating embedding engine with provider=%s", cfg.Provider)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "local", "":
		engine = NewLocalEngine(cfg.LocalDimensions)
	case "ollama":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'local', 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Engine creation failed: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine ready: %s (dimensions=%d)", engine.Name(), engine.Dimensions())
	return engine, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for mismatched dimensions or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// WeightedMerge blends two vectors: (1-w)*a + w*b, renormalized to unit
// length. Used by the profile updater when folding an intent embedding into
// an existing component.
func WeightedMerge(a, b []float32, w float64) []float32 {
	if len(a) == 0 {
		return append([]float32(nil), b...)
	}
	if len(b) == 0 || len(a) != len(b) {
		return append([]float32(nil), a...)
	}
	out := make([]float32, len(a))
	var norm float64
	for i := range a {
		v := (1-w)*float64(a[i]) + w*float64(b[i])
		out[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range out {
			out[i] = float32(float64(out[i]) * inv)
		}
	}
	return out
}
