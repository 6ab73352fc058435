package memory

import "encoding/json"

// EntityType classifies a knowledge item.
type EntityType string

const (
	EntityFact     EntityType = "fact"
	EntityGoal     EntityType = "goal"
	EntityListItem EntityType = "list_item"
)

// Valid reports whether the entity type is one of the known kinds.
func (e EntityType) Valid() bool {
	switch e {
	case EntityFact, EntityGoal, EntityListItem:
		return true
	}
	return false
}

// SourceType returns the embedding source tag for this entity type.
func (e EntityType) SourceType() string {
	return "knowledge_" + string(e)
}

// SourceTypeFileChunk tags embeddings produced by the file indexer.
// File chunks are not owned by any user, so they carry owner id 0.
const SourceTypeFileChunk = "file_chunk"

// Metadata carries the typed fields knowledge items commonly use plus
// any extra keys an extractor produced. It round-trips through a flat
// JSON object in the metadata column.
type Metadata struct {
	Category    string
	Description string
	Status      string
	Extra       map[string]string
}

// MarshalJSON flattens the metadata into a single JSON object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Category != "" {
		out["category"] = m.Category
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if m.Status != "" {
		out["status"] = m.Status
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known keys out of the flat object and keeps the
// remainder in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metadata{}
	for k, v := range raw {
		switch k {
		case "category":
			m.Category = v
		case "description":
			m.Description = v
		case "status":
			m.Status = v
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]string)
			}
			m.Extra[k] = v
		}
	}
	return nil
}

// IsZero reports whether no metadata fields are set.
func (m Metadata) IsZero() bool {
	return m.Category == "" && m.Description == "" && m.Status == "" && len(m.Extra) == 0
}

// KnowledgeItem is a single remembered fact, goal or list item.
type KnowledgeItem struct {
	ID               int64      `json:"id"`
	OwnerID          int64      `json:"owner_id"`
	EntityType       EntityType `json:"entity_type"`
	Content          string     `json:"content"`
	Metadata         Metadata   `json:"metadata"`
	Confidence       float64    `json:"confidence"`
	EmbeddingID      *int64     `json:"embedding_id,omitempty"`
	LastReferencedAt string     `json:"last_referenced_at,omitempty"`
	CreatedAt        string     `json:"created_at,omitempty"`
	UpdatedAt        string     `json:"updated_at,omitempty"`
}
