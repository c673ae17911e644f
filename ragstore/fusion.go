package ragstore

import (
	"sort"
	"strconv"
)

// SourceType identifies which retrieval path produced a RetrievedChunk.
type SourceType string

const (
	SourceDense   SourceType = "dense"
	SourceLexical SourceType = "lexical"
	SourceHybrid  SourceType = "hybrid"
	SourceWindow  SourceType = "window"
)

// RetrievedChunk is one fused, scored retrieval result (§4.8).
type RetrievedChunk struct {
	DocumentID      string
	KnowledgeBaseID string
	ChunkIndex      int
	Text            string
	Filename        string
	Score           float64
	SourceType      SourceType
}

func (r RetrievedChunk) identityKey() string {
	return r.DocumentID + "\x00" + strconv.Itoa(r.ChunkIndex)
}

// FuseHybrid combines dense and lexical result sets per §4.8: each set's
// scores are normalized to [0,1] by dividing by that set's own max score
// (a set with max 0 normalizes every member to 0), the two weights are
// renormalized to sum to 1 (falling back to 50/50 if their sum is <= 0),
// and results are unioned by (document_id, chunk_index) identity. A chunk
// present in both sets is SourceHybrid with the weighted-sum combined
// score; a chunk present in only one set keeps that set's source type and
// its normalized score scaled by that set's renormalized weight.
func FuseHybrid(dense, lexical []RetrievedChunk, denseWeight, lexicalWeight float64) []RetrievedChunk {
	wd, wl := denseWeight, lexicalWeight
	if wd+wl <= 0 {
		wd, wl = 0.5, 0.5
	} else {
		sum := wd + wl
		wd, wl = wd/sum, wl/sum
	}

	denseMax := maxScore(dense)
	lexicalMax := maxScore(lexical)

	byKey := make(map[string]*RetrievedChunk)
	order := make([]string, 0, len(dense)+len(lexical))

	for _, d := range dense {
		norm := 0.0
		if denseMax > 0 {
			norm = d.Score / denseMax
		}
		c := d
		c.Score = wd * norm
		c.SourceType = SourceDense
		key := c.identityKey()
		byKey[key] = &c
		order = append(order, key)
	}

	for _, l := range lexical {
		norm := 0.0
		if lexicalMax > 0 {
			norm = l.Score / lexicalMax
		}
		key := l.identityKey()
		contribution := wl * norm
		if existing, ok := byKey[key]; ok {
			existing.Score += contribution
			existing.SourceType = SourceHybrid
			continue
		}
		c := l
		c.Score = contribution
		c.SourceType = SourceLexical
		byKey[key] = &c
		order = append(order, key)
	}

	seen := make(map[string]bool, len(order))
	out := make([]RetrievedChunk, 0, len(byKey))
	for _, key := range order {
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, *byKey[key])
	}
	return out
}

func maxScore(chunks []RetrievedChunk) float64 {
	max := 0.0
	for _, c := range chunks {
		if c.Score > max {
			max = c.Score
		}
	}
	return max
}

// ApplyThresholdAndTruncate drops chunks scoring below threshold, sorts
// the remainder descending by score, and keeps at most topK (§4.8).
func ApplyThresholdAndTruncate(chunks []RetrievedChunk, threshold float64, topK int) []RetrievedChunk {
	kept := make([]RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if topK > 0 && len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}
