// Package ragstore holds the low-level store and provider adapters the
// engine composes: the vector store (Milvus), the lexical store (Bleve),
// the embedding/LLM provider interfaces, and hybrid score fusion. It plays
// the role the teacher's rag/ subpackage played for the raggo facade, with
// each concern generalized to the spec's payload schema and operations.
package ragstore

import "time"

// ChunkRecord is the payload carried alongside a vector in the vector
// store and, in slightly different shape, as fields in the lexical store
// (§3). PointID is `"{document_id}:{chunk_index}"` in both stores so the
// identity key used for hybrid fusion (§4.8) lines up across stores.
type ChunkRecord struct {
	PointID         string
	DocumentID      string
	KnowledgeBaseID string
	ChunkIndex      int
	Text            string
	CharCount       int
	WordCount       int
	TokenCount      int
	StartChar       int
	EndChar         int
	Filename        string
	FileType        string
	IndexedAt       time.Time
}

// Vector is a dense embedding of fixed length D.
type Vector []float32
