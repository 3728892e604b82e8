package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"mnemos/internal/logging"
)

// =============================================================================
// GOOGLE GENAI EMBEDDING ENGINE
// =============================================================================

// genaiMaxBatch is the maximum number of texts allowed in a single GenAI
// batch request. The API returns 400 above 100.
const genaiMaxBatch = 100

// genaiDimensions keeps the cloud vectors compatible with a corpus started
// on the default output dimensionality.
const genaiDimensions = 3072

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a new GenAI embedding engine.
func NewGenAIEngine(apiKey, model string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	logging.Embedding("Initializing GenAI client: model=%s", model)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("Failed to create GenAI client: %v", err)
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{client: client, model: model}, nil
}

func int32Ptr(i int32) *int32 { return &i }

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "GenAI.Embed")
	defer timer.Stop()

	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{
			OutputDimensionality: int32Ptr(genaiDimensions),
		},
	)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("GenAI embed failed: %v", err)
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Embeddings[0].Values, nil
}

// EmbedBatch generates embeddings for multiple texts, chunked to the API
// batch ceiling.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += genaiMaxBatch {
		end := start + genaiMaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
			&genai.EmbedContentConfig{
				OutputDimensionality: int32Ptr(genaiDimensions),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("GenAI batch embed failed at offset %d: %w", start, err)
		}
		for _, emb := range result.Embeddings {
			out = append(out, emb.Values)
		}
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(out), len(texts))
	}
	return out, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *GenAIEngine) Dimensions() int { return genaiDimensions }

// Name returns the engine name.
func (e *GenAIEngine) Name() string { return fmt.Sprintf("genai:%s", e.model) }
