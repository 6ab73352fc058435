package encoder

import (
	"context"
	"fmt"
	"time"

	"github.com/nadia/mnemo/internal/observability"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAI creates a remote embedding provider.
func NewOpenAI(apiKey, model string) *OpenAI {
	observability.EnsureRegistered()

	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}

	dimension := 1536
	if model == string(openai.EmbeddingModelTextEmbedding3Large) {
		dimension = 3072
	}

	return &OpenAI{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
	}
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
	}

	start := time.Now()
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(o.model),
	})
	observability.RecordEmbed(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings call failed: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}

	return vecs, nil
}

func (o *OpenAI) Dimension() int {
	return o.dimension
}

func (o *OpenAI) ModelName() string {
	return o.model
}
