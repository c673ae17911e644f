// Package settings resolves the effective retrieval configuration for a
// query by merging overrides across six precedence levels (§4.7),
// generalizing config.Load's env-over-file-over-default layering from two
// levels to six.
package settings

import "encoding/json"

// Overrides is one precedence level's sparse view of the recognized keys.
// A nil pointer/slice means "this level does not supply a value" so the
// resolver falls through to the next level.
type Overrides struct {
	TopK                *int     `json:"top_k,omitempty"`
	RetrievalMode       *string  `json:"retrieval_mode,omitempty"`
	LexicalTopK         *int     `json:"lexical_top_k,omitempty"`
	HybridDenseWeight   *float64 `json:"hybrid_dense_weight,omitempty"`
	HybridLexicalWeight *float64 `json:"hybrid_lexical_weight,omitempty"`
	MaxContextChars     *int     `json:"max_context_chars,omitempty"`
	ScoreThreshold      *float64 `json:"score_threshold,omitempty"`
	UseStructure        *bool    `json:"use_structure,omitempty"`
	UseMMR              *bool    `json:"use_mmr,omitempty"`
	MMRDiversity        *float64 `json:"mmr_diversity,omitempty"`
	ContextExpansion    []string `json:"context_expansion,omitempty"`
	ContextWindow       *int     `json:"context_window,omitempty"`
	BM25MatchMode       *string  `json:"bm25_match_mode,omitempty"`
	BM25MinShouldMatch  *int     `json:"bm25_min_should_match,omitempty"`
	BM25UsePhrase       *bool    `json:"bm25_use_phrase,omitempty"`
	BM25Analyzer        *string  `json:"bm25_analyzer,omitempty"`
}

// Effective is the fully resolved, concrete configuration used by a
// single retrieval call.
type Effective struct {
	TopK                int
	RetrievalMode       string
	LexicalTopK         int
	HybridDenseWeight   float64
	HybridLexicalWeight float64
	MaxContextChars     int
	ScoreThreshold      float64
	UseStructure        bool
	UseMMR              bool
	MMRDiversity        float64
	ContextExpansion    []string
	ContextWindow       int
	BM25MatchMode       string
	BM25MinShouldMatch  int
	BM25UsePhrase       bool
	BM25Analyzer        string
}

// Defaults returns the hard-coded fallback configuration (precedence
// level 6, §4.7's table).
func Defaults() Effective {
	return Effective{
		TopK:                5,
		RetrievalMode:       "dense",
		LexicalTopK:         20,
		HybridDenseWeight:   0.6,
		HybridLexicalWeight: 0.4,
		MaxContextChars:     0,
		ScoreThreshold:      0.0,
		UseStructure:        false,
		UseMMR:              false,
		MMRDiversity:        0.5,
		ContextExpansion:    nil,
		ContextWindow:       0,
		BM25MatchMode:       "balanced",
		BM25MinShouldMatch:  50,
		BM25UsePhrase:       true,
		BM25Analyzer:        "mixed",
	}
}

// KBBM25Overrides is precedence level 4: only the four BM25 columns a
// KnowledgeBase carries directly (as opposed to its retrieval_settings
// JSON blob, which is level 3 and covers all 16 keys).
type KBBM25Overrides struct {
	MatchMode      string
	MinShouldMatch int
	UsePhrase      bool
	Analyzer       string
}

// Resolve merges request, conversation, KB JSON, KB BM25 columns, and
// global AppSettings JSON onto the defaults, in strict precedence order
// (§4.7). request and conversation may be nil if absent; kbSettingsJSON
// and globalSettingsJSON may be nil/empty if unset.
func Resolve(request, conversation *Overrides, kbSettingsJSON json.RawMessage, kbBM25 KBBM25Overrides, globalSettingsJSON json.RawMessage) Effective {
	eff := Defaults()

	applyGlobalJSON(&eff, globalSettingsJSON)
	applyBM25Columns(&eff, kbBM25)
	applyJSON(&eff, kbSettingsJSON)
	if conversation != nil {
		apply(&eff, conversation)
	}
	if request != nil {
		apply(&eff, request)
	}
	return eff
}

// applyGlobalJSON merges the global AppSettings JSON exactly as applyJSON
// does; it is named separately for level 5, which sits below level 4 in
// §4.7's ordering, so global JSON is applied first and can still be
// overridden by the KB's dedicated BM25 columns.
func applyGlobalJSON(eff *Effective, raw json.RawMessage) {
	applyJSON(eff, raw)
}

func applyJSON(eff *Effective, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var o Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return
	}
	apply(eff, &o)
}

func applyBM25Columns(eff *Effective, kb KBBM25Overrides) {
	if kb.MatchMode != "" {
		eff.BM25MatchMode = kb.MatchMode
	}
	if kb.MinShouldMatch != 0 {
		eff.BM25MinShouldMatch = kb.MinShouldMatch
	}
	if kb != (KBBM25Overrides{}) {
		eff.BM25UsePhrase = kb.UsePhrase
	}
	if kb.Analyzer != "" {
		eff.BM25Analyzer = kb.Analyzer
	}
}

func apply(eff *Effective, o *Overrides) {
	if o.TopK != nil {
		eff.TopK = *o.TopK
	}
	if o.RetrievalMode != nil {
		eff.RetrievalMode = *o.RetrievalMode
	}
	if o.LexicalTopK != nil {
		eff.LexicalTopK = *o.LexicalTopK
	}
	if o.HybridDenseWeight != nil {
		eff.HybridDenseWeight = *o.HybridDenseWeight
	}
	if o.HybridLexicalWeight != nil {
		eff.HybridLexicalWeight = *o.HybridLexicalWeight
	}
	if o.MaxContextChars != nil {
		eff.MaxContextChars = *o.MaxContextChars
	}
	if o.ScoreThreshold != nil {
		eff.ScoreThreshold = *o.ScoreThreshold
	}
	if o.UseStructure != nil {
		eff.UseStructure = *o.UseStructure
	}
	if o.UseMMR != nil {
		eff.UseMMR = *o.UseMMR
	}
	if o.MMRDiversity != nil {
		eff.MMRDiversity = *o.MMRDiversity
	}
	if o.ContextExpansion != nil {
		eff.ContextExpansion = o.ContextExpansion
	}
	if o.ContextWindow != nil {
		eff.ContextWindow = *o.ContextWindow
	}
	if o.BM25MatchMode != nil {
		eff.BM25MatchMode = *o.BM25MatchMode
	}
	if o.BM25MinShouldMatch != nil {
		eff.BM25MinShouldMatch = *o.BM25MinShouldMatch
	}
	if o.BM25UsePhrase != nil {
		eff.BM25UsePhrase = *o.BM25UsePhrase
	}
	if o.BM25Analyzer != nil {
		eff.BM25Analyzer = *o.BM25Analyzer
	}
}
