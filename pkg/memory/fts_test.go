package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain words", "coffee preferences", `"coffee" OR "preferences"`},
		{"single word", "hiking", `"hiking"`},
		{"negation dropped", "coffee -tea", `"coffee"`},
		{"quotes stripped", `say "hello" world`, `"say" OR "hello" OR "world"`},
		{"fts operators neutralized", "NEAR(a b)", `"NEAR(a" OR "b)"`},
		{"empty", "", ""},
		{"only negations", "-a -b", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeQuery(tt.query))
		})
	}
}

func TestSearchByTypeMatchesContent(t *testing.T) {
	db := newTestDB(t)
	search := NewKeywordSearch(db, zerolog.Nop())

	insertKnowledgeRow(t, db, 1, EntityFact, "drinks espresso every morning")
	insertKnowledgeRow(t, db, 1, EntityFact, "allergic to peanuts")
	insertKnowledgeRow(t, db, 2, EntityFact, "espresso for another owner")

	items := search.SearchByType(context.Background(), 1, "espresso habits", EntityFact, 10)
	require.Len(t, items, 1)
	assert.Equal(t, "drinks espresso every morning", items[0].Content)
}

func TestSearchByTypeGoalsActiveOnly(t *testing.T) {
	db := newTestDB(t)
	search := NewKeywordSearch(db, zerolog.Nop())

	_, err := db.Handle().Exec(
		`INSERT INTO knowledge (owner_id, entity_type, content, metadata) VALUES
		 (1, 'goal', 'learn spanish', '{"status":"active"}'),
		 (1, 'goal', 'learn italian', '{"status":"completed"}')`)
	require.NoError(t, err)

	items := search.SearchByType(context.Background(), 1, "learn a language", EntityGoal, 10)
	require.Len(t, items, 1)
	assert.Equal(t, "learn spanish", items[0].Content)
}

func TestSearchByTypeNoMatchReturnsEmpty(t *testing.T) {
	db := newTestDB(t)
	search := NewKeywordSearch(db, zerolog.Nop())

	insertKnowledgeRow(t, db, 1, EntityFact, "drinks espresso every morning")

	items := search.SearchByType(context.Background(), 1, "quantum chromodynamics", EntityFact, 10)
	assert.Empty(t, items)
}

func TestSearchByTypeUnusableQueryReturnsEmpty(t *testing.T) {
	db := newTestDB(t)
	search := NewKeywordSearch(db, zerolog.Nop())

	assert.Empty(t, search.SearchByType(context.Background(), 1, "", EntityFact, 10))
	assert.Empty(t, search.SearchByType(context.Background(), 1, "-excluded", EntityFact, 10))
}
