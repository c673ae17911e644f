package ragstore

import "context"

// Filter is a conjunction of per-field clauses (§4.4). A field's value is
// exactly one of: a scalar (exact match), a list (any-of), or a Range
// (bounds on an integer field). The zero Filter (use NewFilter) matches
// everything.
type Filter struct {
	Equals map[string]interface{}
	AnyOf  map[string][]interface{}
	Ranges map[string]Range
}

// Range bounds an integer field; a nil bound means "unset".
type Range struct {
	GTE, LTE *int
	GT, LT   *int
}

// NewFilter returns an empty, always-matching Filter.
func NewFilter() Filter {
	return Filter{Equals: map[string]interface{}{}, AnyOf: map[string][]interface{}{}, Ranges: map[string]Range{}}
}

// WithEquals adds a scalar equality clause and returns the filter for chaining.
func (f Filter) WithEquals(field string, value interface{}) Filter {
	f.Equals[field] = value
	return f
}

// WithAnyOf adds an any-of clause and returns the filter for chaining.
func (f Filter) WithAnyOf(field string, values []interface{}) Filter {
	f.AnyOf[field] = values
	return f
}

// WithRange adds a range clause and returns the filter for chaining.
func (f Filter) WithRange(field string, r Range) Filter {
	f.Ranges[field] = r
	return f
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return len(f.Equals) == 0 && len(f.AnyOf) == 0 && len(f.Ranges) == 0
}

// SearchOptions configures a vector search call (§4.4).
type SearchOptions struct {
	Limit          int
	ScoreThreshold *float64
	Filter         Filter
	MMR            bool
	MMRDiversity   float64
}

// SearchHit is one result from a vector search, carrying the raw provider
// score. Cosine similarity is the mandatory metric; normalization to
// [0,1] happens downstream in the retrieval engine, not here.
type SearchHit struct {
	PointID string
	Score   float64
	Record  ChunkRecord
	Vector  Vector
}

// ScrollCursor opaquely continues a paginated scroll call.
type ScrollCursor string

// UpsertPoint is one vector plus its payload, keyed by a stable point id.
type UpsertPoint struct {
	ID     string
	Vector Vector
	Record ChunkRecord
}

// VectorStore is the collection-lifecycle and search contract the engine
// requires from its dense backend (§4.4). One collection exists per KB,
// named per §6's `kb_<hex32>` convention; callers, not this interface,
// derive that name.
type VectorStore interface {
	// EnsureCollection creates the collection with the given embedding
	// dimension and cosine metric if it doesn't already exist.
	EnsureCollection(ctx context.Context, name string, dimension int) error
	// CollectionExists also returns true for known aliases (§4.4).
	CollectionExists(ctx context.Context, name string) (bool, error)
	DropCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, name string, points []UpsertPoint, batchSize int) error
	Search(ctx context.Context, name string, query Vector, opts SearchOptions) ([]SearchHit, error)
	Scroll(ctx context.Context, name string, filter Filter, limit int, cursor ScrollCursor) ([]ChunkRecord, ScrollCursor, error)
	DeleteByFilter(ctx context.Context, name string, filter Filter) error
	Count(ctx context.Context, name string, filter Filter) (int, error)

	Close() error
}
