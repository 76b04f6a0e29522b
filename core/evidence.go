package core

import (
	"fmt"
	"maps"
	"slices"
)

// SourceType identifies which retrieval path produced an evidence item.
type SourceType string

const (
	// SourceVector marks evidence from the knowledge index.
	SourceVector SourceType = "vector"
	// SourceWeb marks evidence fetched from an allowed web page.
	SourceWeb SourceType = "web"
)

// Metadata keys carried by vector-sourced evidence.
const (
	MetaCategory       = "category"
	MetaRecommendation = "recommendation"
	MetaDescription    = "description"
)

// EvidenceItem is one retrieved passage. Items are values; the With* methods
// return modified copies and never touch the receiver.
type EvidenceItem struct {
	SourceType SourceType
	Content    string
	Score      float64
	Scored     bool              // false until a similarity or relevance score is attached
	Provenance string            // "vector:<id>" or the source URL
	URL        string            // set for web evidence
	Metadata   map[string]string // category, recommendation, description for vector evidence
}

// VectorEvidence builds an evidence item from a knowledge index hit.
func VectorEvidence(hit *KnowledgeHit) EvidenceItem {
	return EvidenceItem{
		SourceType: SourceVector,
		Content:    hit.Chunk.Content,
		Score:      float64(hit.Score),
		Scored:     true,
		Provenance: VectorProvenance(hit.Chunk.Id),
		Metadata: map[string]string{
			MetaCategory:       hit.Chunk.Category,
			MetaRecommendation: hit.Chunk.Recommendation,
			MetaDescription:    hit.Chunk.Description,
		},
	}
}

// WebEvidence builds an unscored evidence item from fetched page content.
func WebEvidence(url, content string) EvidenceItem {
	return EvidenceItem{
		SourceType: SourceWeb,
		Content:    content,
		Provenance: url,
		URL:        url,
	}
}

// VectorProvenance returns the provenance tag for a knowledge chunk.
func VectorProvenance(id ID) string {
	return fmt.Sprintf("vector:%d", id)
}

// WithScore returns a copy of the item carrying the given score.
func (e EvidenceItem) WithScore(score float64) EvidenceItem {
	e.Score = score
	e.Scored = true
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// WithContent returns a copy of the item with replaced content.
func (e EvidenceItem) WithContent(content string) EvidenceItem {
	e.Content = content
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// Meta returns a metadata field or "" when absent.
func (e EvidenceItem) Meta(key string) string {
	return e.Metadata[key]
}

// EvidenceSet is an append-only ordered collection of evidence with unique
// provenance. The zero value is an empty set.
type EvidenceSet struct {
	items []EvidenceItem
}

// NewEvidenceSet builds a set from items, dropping duplicate provenance.
func NewEvidenceSet(items ...EvidenceItem) EvidenceSet {
	return EvidenceSet{}.Append(items...)
}

// Append returns a new set holding the existing items followed by every new
// item whose provenance is not yet present. The receiver is left unchanged.
func (s EvidenceSet) Append(items ...EvidenceItem) EvidenceSet {
	out := slices.Clone(s.items)
	for _, item := range items {
		if item.Provenance == "" || containsProvenance(out, item.Provenance) {
			continue
		}
		out = append(out, item)
	}
	return EvidenceSet{items: out}
}

func containsProvenance(items []EvidenceItem, provenance string) bool {
	return slices.ContainsFunc(items, func(e EvidenceItem) bool {
		return e.Provenance == provenance
	})
}

// Items returns a copy of the items in insertion order.
func (s EvidenceSet) Items() []EvidenceItem {
	return slices.Clone(s.items)
}

// Len returns the number of items.
func (s EvidenceSet) Len() int {
	return len(s.items)
}

// BySource returns the items produced by one retrieval path, in order.
func (s EvidenceSet) BySource(source SourceType) []EvidenceItem {
	var out []EvidenceItem
	for _, item := range s.items {
		if item.SourceType == source {
			out = append(out, item)
		}
	}
	return out
}

// Verdict is the outcome of one reflection step.
type Verdict struct {
	Sufficient     bool
	FollowUpQuery  string
	SummaryContext string // optional condensed evidence; replaces the rendered set when present
}
