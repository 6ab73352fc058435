package memory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const extractionSystemPrompt = `You extract durable personal knowledge from a user message.
Return ONLY a JSON array. Each element has:
  "entity_type": one of "fact", "goal", "list_item"
  "content": the knowledge, phrased as a standalone statement
  "metadata": object of string values (optional keys: category, description, status)
  "confidence": number between 0 and 1
Extract only information worth remembering long term: stable preferences,
facts about the user's life and projects, stated goals, items for lists.
Ignore small talk, questions and transient chatter. Return [] when there
is nothing to remember.`

// extractionSchema validates the model output before anything touches
// the database.
const extractionSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["entity_type", "content"],
		"properties": {
			"entity_type": {"type": "string", "enum": ["fact", "goal", "list_item"]},
			"content": {"type": "string", "minLength": 1},
			"metadata": {"type": "object", "additionalProperties": {"type": "string"}},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}
}`

// Extractor asks a language model to pull knowledge items out of free
// text. Extraction is an enrichment step: every failure (API error,
// malformed output, schema violation) yields zero items, never an
// error, so callers cannot be broken by a flaky model.
type Extractor struct {
	client anthropic.Client
	model  anthropic.Model
	logger zerolog.Logger
}

// NewExtractor creates an extractor using the given API key and model.
func NewExtractor(apiKey, model string, logger zerolog.Logger) *Extractor {
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &Extractor{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

// Extract returns the knowledge items found in message. Messages too
// short to carry knowledge are skipped without an API call.
func (e *Extractor) Extract(ctx context.Context, message string) []KnowledgeItem {
	message = strings.TrimSpace(message)
	if len(message) < 5 {
		return nil
	}

	response, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: extractionSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Knowledge extraction call failed")
		return nil
	}

	text := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += b.Text
		}
	}

	return e.parse(text)
}

// parse validates and decodes the model output.
func (e *Extractor) parse(text string) []KnowledgeItem {
	text = stripCodeFence(text)
	if text == "" {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(extractionSchema),
		gojsonschema.NewStringLoader(text),
	)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Extraction output is not valid JSON")
		return nil
	}
	if !result.Valid() {
		e.logger.Warn().
			Interface("violations", result.Errors()).
			Msg("Extraction output failed schema validation")
		return nil
	}

	var raw []struct {
		EntityType string            `json:"entity_type"`
		Content    string            `json:"content"`
		Metadata   map[string]string `json:"metadata"`
		Confidence float64           `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to decode extraction output")
		return nil
	}

	items := make([]KnowledgeItem, 0, len(raw))
	for _, r := range raw {
		entityType := EntityType(r.EntityType)
		if !entityType.Valid() || strings.TrimSpace(r.Content) == "" {
			continue
		}
		confidence := r.Confidence
		if confidence <= 0 {
			confidence = 1.0
		}
		var metadata Metadata
		if len(r.Metadata) > 0 {
			encoded, err := json.Marshal(r.Metadata)
			if err == nil {
				_ = metadata.UnmarshalJSON(encoded)
			}
		}
		items = append(items, KnowledgeItem{
			EntityType: entityType,
			Content:    strings.TrimSpace(r.Content),
			Metadata:   metadata,
			Confidence: confidence,
		})
	}
	return items
}

// stripCodeFence removes a surrounding markdown fence if the model
// wrapped its JSON in one.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
