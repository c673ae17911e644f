package structure

import (
	"strconv"
	"strings"

	"github.com/kbrag/engine/ragstore"
	"github.com/kbrag/engine/store"
)

// sectionTypeDocumentType maps an intent's section_type to the document_type
// a matching DocumentStructure should carry (§4.9 step 1).
var sectionTypeDocumentType = map[string]string{
	"question": "tma_questions",
	"section":  "textbook_chapter",
	"chapter":  "textbook_chapter",
}

// DocumentCandidate is one KB document available for structure-filter
// resolution: its id/filename, and its structure tree if one was
// extracted and approved.
type DocumentCandidate struct {
	ID         string
	Filename   string
	Structure  *store.DocumentStructure
	ChunkCount int
}

// TranslateFilter implements §4.9's structure filter translation. It
// returns nil when the intent isn't structured enough, or when no
// matching section with valid bounds can be found.
func TranslateFilter(intent Intent, candidates []DocumentCandidate) *ragstore.Filter {
	if !intent.IsStructured() || len(candidates) == 0 {
		return nil
	}

	doc := resolveDocument(intent, candidates)
	if doc == nil || doc.Structure == nil {
		return nil
	}

	section := findSection(doc.Structure.Sections, intent)
	if section == nil {
		return nil
	}
	if section.ChunkStart < 0 || section.ChunkEnd < section.ChunkStart {
		return nil
	}

	gte, lte := section.ChunkStart, section.ChunkEnd
	f := ragstore.NewFilter().
		WithEquals("document_id", doc.ID).
		WithRange("chunk_index", ragstore.Range{GTE: &gte, LTE: &lte})
	return &f
}

// resolveDocument implements §4.9 step 1's document resolution chain:
// substring match on document_name; else the single document if there's
// exactly one; else a document whose structure type matches the intent's
// section_type mapping; else any document with a structure; else the
// first document.
func resolveDocument(intent Intent, candidates []DocumentCandidate) *DocumentCandidate {
	if intent.DocumentName != "" {
		needle := strings.ToLower(intent.DocumentName)
		for i := range candidates {
			if strings.Contains(strings.ToLower(candidates[i].Filename), needle) {
				return &candidates[i]
			}
		}
	}

	if len(candidates) == 1 {
		return &candidates[0]
	}

	if wantType, ok := sectionTypeDocumentType[intent.SectionType]; ok {
		for i := range candidates {
			if candidates[i].Structure != nil && candidates[i].Structure.DocumentType == wantType {
				return &candidates[i]
			}
		}
	}

	for i := range candidates {
		if candidates[i].Structure != nil {
			return &candidates[i]
		}
	}

	return &candidates[0]
}

// findSection descends the section tree for a node whose type matches
// section_type and whose metadata.question_number matches section_number,
// or whose id matches the canonicalized section_id (§4.9 step 2).
func findSection(sections []store.Section, intent Intent) *store.Section {
	wantID := canonicalize(intent.SectionID)

	var walk func([]store.Section) *store.Section
	walk = func(nodes []store.Section) *store.Section {
		for i := range nodes {
			n := &nodes[i]
			if wantID != "" && canonicalize(n.ID) == wantID {
				return n
			}
			if intent.SectionType != "" && n.Type == intent.SectionType && matchesNumber(n, intent.SectionNumber) {
				return n
			}
			if found := walk(n.Subsections); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(sections)
}

func matchesNumber(n *store.Section, wantNumber string) bool {
	if wantNumber == "" {
		return true
	}
	if n.Metadata == nil {
		return false
	}
	got, ok := n.Metadata["question_number"]
	if !ok {
		return false
	}
	return numberString(got) == wantNumber
}

func numberString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func canonicalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
