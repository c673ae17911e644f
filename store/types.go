package store

import (
	"encoding/json"
	"time"
)

// Status is a lifecycle state in the PENDING->PROCESSING->COMPLETED
// lattice, with FAILED shadowing any sibling (§3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusCompleted:  2,
}

// OverallStatus computes a Document's overall status as the minimum of
// its embeddings and BM25 sub-statuses by the lattice, with FAILED
// dominating either sibling (§3).
func OverallStatus(embeddings, bm25 Status) Status {
	if embeddings == StatusFailed || bm25 == StatusFailed {
		return StatusFailed
	}
	if statusRank[embeddings] <= statusRank[bm25] {
		return embeddings
	}
	return bm25
}

// KnowledgeBase is a tenant's retrieval corpus (§3).
type KnowledgeBase struct {
	ID                    string
	Name                  string
	EmbeddingModel        string
	EmbeddingDimension    int
	ChunkSize             int
	ChunkOverlap          int
	ChunkingStrategy      string
	LexicalMatchMode      string
	LexicalMinShouldMatch int
	LexicalUsePhrase      bool
	LexicalAnalyzer       string
	RetrievalSettings     json.RawMessage
	CollectionName        string
	DocumentCount         int
	TotalChunks           int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Document belongs to exactly one KnowledgeBase (§3).
type Document struct {
	ID               string
	KnowledgeBaseID  string
	Filename         string
	Content          string
	ContentHash      string
	FileType         string
	OverallStatus    Status
	EmbeddingsStatus Status
	BM25Status       Status
	ChunkCount       int
	ProgressPercent  int
	Stage            string
	ErrorMessage     string
	DeletedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Section is one node in a DocumentStructure's hierarchy (§3).
type Section struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Type        string                 `json:"type"`
	ChunkStart  int                    `json:"chunk_start"`
	ChunkEnd    int                    `json:"chunk_end"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Subsections []Section              `json:"subsections,omitempty"`
}

// DocumentStructure is the section hierarchy attached to a document (§3).
type DocumentStructure struct {
	ID           string
	DocumentID   string
	DocumentType string
	Approved     bool
	Sections     []Section
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
