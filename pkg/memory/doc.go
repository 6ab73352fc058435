// Package memory stores long-term knowledge items and their embeddings
// and assembles memory context for prompts.
//
// Invariants:
// - Writes commit to sqlite before any embedding work happens.
// - Embedding failures never fail a write; items stay reachable via keyword search.
// - Vector availability is probed once at open; absence degrades to lexical search.
// - Retrieval per entity type tries vector, then keyword, then most recent items.
//
// Usage:
//
//	db, _ := memory.Open(memory.Options{Path: "/data/mnemo.db", Dimension: 384})
//	defer db.Close()
//	store := memory.NewKnowledgeStore(db, embeddings, logger)
//	id, _ := store.AddItem(ctx, ownerID, memory.EntityFact, "prefers dark mode", memory.Metadata{}, 1.0)
//	_ = id
package memory
