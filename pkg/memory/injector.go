package memory

import (
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"

	"github.com/nadia/mnemo/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultFactLimit     = 5
	defaultGoalLimit     = 3
	defaultListItemLimit = 5

	// DefaultMinConfidence is the floor below which items are never
	// injected into a prompt.
	DefaultMinConfidence = 0.5

	// readmePreviewBytes caps how much of a project README is inlined.
	readmePreviewBytes = 1500
)

// searchStrategy is one way of finding knowledge relevant to a message.
// Strategies are tried in order; the first non-empty result wins.
type searchStrategy interface {
	name() string
	search(ctx context.Context, ownerID int64, query string, entityType EntityType, limit int, minConfidence float64) ([]KnowledgeItem, error)
}

// vectorStrategy resolves KNN hits back to knowledge rows.
type vectorStrategy struct {
	embeddings *EmbeddingStore
	knowledge  *KnowledgeStore
}

func (v *vectorStrategy) name() string { return "vector" }

func (v *vectorStrategy) search(ctx context.Context, ownerID int64, query string, entityType EntityType, limit int, minConfidence float64) ([]KnowledgeItem, error) {
	hits, err := v.embeddings.SearchSimilarForType(ctx, ownerID, query, entityType.SourceType(), limit, true)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		if h.SourceID != 0 {
			ids = append(ids, h.SourceID)
		}
	}
	return v.knowledge.GetByIDs(ctx, ownerID, ids, minConfidence)
}

// lexicalStrategy is the BM25 fallback.
type lexicalStrategy struct {
	keywords *KeywordSearch
}

func (l *lexicalStrategy) name() string { return "lexical" }

func (l *lexicalStrategy) search(ctx context.Context, ownerID int64, query string, entityType EntityType, limit int, minConfidence float64) ([]KnowledgeItem, error) {
	items := l.keywords.SearchByType(ctx, ownerID, query, entityType, limit)
	filtered := items[:0]
	for _, item := range items {
		if item.Confidence >= minConfidence {
			filtered = append(filtered, item)
		}
	}
	return filtered, nil
}

// Assembler builds the memory block injected into system prompts. Per
// entity type it tries vector search, then keyword search, then the
// most recent items, and renders whatever it found as an XML block.
type Assembler struct {
	knowledge  *KnowledgeStore
	strategies []searchStrategy
	logger     zerolog.Logger
	limits     map[EntityType]int
}

// NewAssembler wires an assembler over the given stores. embeddings
// may be nil when no encoder is configured; the assembler then starts
// at the keyword strategy.
func NewAssembler(knowledge *KnowledgeStore, embeddings *EmbeddingStore, keywords *KeywordSearch, logger zerolog.Logger) *Assembler {
	var strategies []searchStrategy
	if embeddings != nil {
		strategies = append(strategies, &vectorStrategy{embeddings: embeddings, knowledge: knowledge})
	}
	strategies = append(strategies, &lexicalStrategy{keywords: keywords})

	return &Assembler{
		knowledge:  knowledge,
		strategies: strategies,
		logger:     logger,
		limits: map[EntityType]int{
			EntityFact:     defaultFactLimit,
			EntityGoal:     defaultGoalLimit,
			EntityListItem: defaultListItemLimit,
		},
	}
}

// BuildContext returns the rendered memory block for a message, or an
// empty string when nothing relevant is stored.
func (a *Assembler) BuildContext(ctx context.Context, ownerID int64, message string, minConfidence float64) string {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.build_context",
		attribute.Int64("owner_id", ownerID))
	defer span.End()

	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}

	logger := tracing.LoggerFromContext(ctx, a.logger)

	facts := a.retrieve(ctx, ownerID, message, EntityFact, a.limits[EntityFact], minConfidence, logger)
	goals := a.retrieve(ctx, ownerID, message, EntityGoal, a.limits[EntityGoal], minConfidence, logger)
	listItems := a.retrieve(ctx, ownerID, message, EntityListItem, a.limits[EntityListItem], minConfidence, logger)
	projects := a.projectContext(ctx, ownerID, minConfidence, logger)

	block := renderMemoryBlock(facts, goals, listItems, projects)
	if block == "" {
		return ""
	}

	var used []int64
	for _, items := range [][]KnowledgeItem{facts, goals, listItems} {
		for _, item := range items {
			used = append(used, item.ID)
		}
	}
	if err := a.knowledge.UpdateLastReferenced(ctx, ownerID, used); err != nil {
		logger.Warn().Err(err).Msg("Failed to stamp referenced items")
	}

	logger.Debug().
		Int("facts", len(facts)).
		Int("goals", len(goals)).
		Int("list_items", len(listItems)).
		Msg("Memory context assembled")

	return block
}

// BuildSystemPrompt appends the memory block to a base prompt. The
// base prompt is returned unchanged when there is nothing to inject.
func (a *Assembler) BuildSystemPrompt(ctx context.Context, ownerID int64, message, basePrompt string, minConfidence float64) string {
	block := a.BuildContext(ctx, ownerID, message, minConfidence)
	if block == "" {
		return basePrompt
	}
	return basePrompt + "\n\n" + block
}

// Search retrieves items of one entity type relevant to a query using
// the same strategy chain prompt assembly uses, without stamping
// reference times.
func (a *Assembler) Search(ctx context.Context, ownerID int64, query string, entityType EntityType, limit int, minConfidence float64) []KnowledgeItem {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	if limit <= 0 {
		limit = a.limits[entityType]
	}
	return a.retrieve(ctx, ownerID, query, entityType, limit, minConfidence, a.logger)
}

// retrieve walks the strategy chain for one entity type and falls back
// to the most recent items when no strategy matched.
func (a *Assembler) retrieve(ctx context.Context, ownerID int64, message string, entityType EntityType, limit int, minConfidence float64, logger zerolog.Logger) []KnowledgeItem {
	for _, strategy := range a.strategies {
		items, err := strategy.search(ctx, ownerID, message, entityType, limit, minConfidence)
		if err != nil {
			logger.Debug().Err(err).
				Str("strategy", strategy.name()).
				Str("entity_type", string(entityType)).
				Msg("Search strategy failed, trying next")
			continue
		}
		if len(items) > 0 {
			return items
		}
	}

	items, err := a.knowledge.GetByType(ctx, ownerID, entityType, limit, minConfidence)
	if err != nil {
		logger.Warn().Err(err).Str("entity_type", string(entityType)).Msg("Recent-items fallback failed")
		return nil
	}
	return items
}

// projectContext inlines README previews for facts categorized as
// projects whose content looks like a local path.
func (a *Assembler) projectContext(ctx context.Context, ownerID int64, minConfidence float64, logger zerolog.Logger) []string {
	items, err := a.knowledge.GetByType(ctx, ownerID, EntityFact, 25, minConfidence)
	if err != nil {
		logger.Debug().Err(err).Msg("Project context lookup failed")
		return nil
	}

	var previews []string
	for _, item := range items {
		if item.Metadata.Category != "project" {
			continue
		}
		path := projectPath(item)
		if path == "" {
			continue
		}
		readme := filepath.Join(path, "README.md")
		data, err := os.ReadFile(readme)
		if err != nil {
			continue
		}
		preview := string(data)
		if len(preview) > readmePreviewBytes {
			preview = preview[:readmePreviewBytes]
		}
		previews = append(previews, fmt.Sprintf("[%s] %s", readme, strings.TrimSpace(preview)))
		if len(previews) >= 3 {
			break
		}
	}
	return previews
}

// projectPath extracts a usable directory from a project fact, either
// the metadata path key or a path-looking content string.
func projectPath(item KnowledgeItem) string {
	if p, ok := item.Metadata.Extra["path"]; ok {
		return p
	}
	if strings.HasPrefix(item.Content, "/") || strings.HasPrefix(item.Content, "~/") {
		return strings.Fields(item.Content)[0]
	}
	return ""
}

// renderMemoryBlock renders the retrieved items as the <memory> XML
// block. Sections with no items are omitted entirely.
func renderMemoryBlock(facts, goals, listItems []KnowledgeItem, projects []string) string {
	if len(facts) == 0 && len(goals) == 0 && len(listItems) == 0 && len(projects) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<memory>\n")

	if len(facts) > 0 || len(projects) > 0 {
		b.WriteString("  <facts>\n")
		for _, item := range facts {
			attr := ""
			if item.Metadata.Category != "" {
				attr = fmt.Sprintf(" category=%q", item.Metadata.Category)
			}
			fmt.Fprintf(&b, "    <fact id=\"%d\"%s>%s</fact>\n", item.ID, attr, html.EscapeString(item.Content))
		}
		for _, preview := range projects {
			fmt.Fprintf(&b, "    <fact category=\"project_context\">%s</fact>\n", html.EscapeString(preview))
		}
		b.WriteString("  </facts>\n")
	}

	if len(goals) > 0 {
		b.WriteString("  <goals>\n")
		for _, item := range goals {
			text := item.Content
			if item.Metadata.Description != "" {
				text += ": " + item.Metadata.Description
			}
			fmt.Fprintf(&b, "    <goal id=\"%d\">%s</goal>\n", item.ID, html.EscapeString(text))
		}
		b.WriteString("  </goals>\n")
	}

	if len(listItems) > 0 {
		b.WriteString("  <list_items>\n")
		for _, item := range listItems {
			attr := ""
			if item.Metadata.Category != "" {
				attr = fmt.Sprintf(" list=%q", item.Metadata.Category)
			}
			fmt.Fprintf(&b, "    <item id=\"%d\"%s>%s</item>\n", item.ID, attr, html.EscapeString(item.Content))
		}
		b.WriteString("  </list_items>\n")
	}

	b.WriteString("</memory>")
	return b.String()
}
