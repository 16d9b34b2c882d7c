// Package similarity computes TF-IDF weighted cosine similarity over
// chunk content. It is original tokenization/math code built on the
// standard library — see DESIGN.md for why no third-party library was a
// better fit than hand-rolling this arithmetic.
package similarity

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinScore is the similarity floor below which a result is dropped.
const MinScore = 0.01

// MinTokenLength drops tokens shorter than this many runes (spec.md §4.10
// step 2) — articles, short function words, and noise survive tokenization
// otherwise and dilute the vector with no discriminative value.
const MinTokenLength = 3

// stopwords is the fixed English stopword list spec.md §4.10 calls for.
// Kept small and unexported: it only needs to cover the function words
// common enough to otherwise dominate term frequency.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"if": true, "then": true, "else": true, "for": true, "with": true,
	"without": true, "this": true, "that": true, "these": true, "those": true,
	"there": true, "here": true, "was": true, "were": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "having": true,
	"does": true, "did": true, "doing": true, "done": true, "not": true,
	"from": true, "into": true, "onto": true, "over": true, "under": true,
	"again": true, "further": true, "once": true, "about": true, "above": true,
	"below": true, "between": true, "after": true, "before": true, "during": true,
	"each": true, "few": true, "more": true, "most": true, "other": true,
	"some": true, "such": true, "only": true, "own": true, "same": true,
	"than": true, "too": true, "very": true, "can": true, "will": true,
	"should": true, "would": true, "could": true, "just": true, "also": true,
	"they": true, "them": true, "their": true, "what": true, "which": true,
	"who": true, "whom": true, "because": true, "until": true, "while": true,
	"are": true, "you": true, "your": true, "yours": true, "she": true,
	"her": true, "his": true, "him": true, "its": true, "our": true, "ours": true,
}

// Document is one chunk's content paired with an opaque identifier, the
// unit the index is built and queried over.
type Document struct {
	ID      string
	Content string
}

// Scored is a Document's id with its similarity score against a query.
type Scored struct {
	ID    string
	Score float64
}

// Related is a Scored result annotated with its highest-weighted shared
// terms, the shape spec.md §4.10's find_related returns.
type Related struct {
	ID          string
	Score       float64
	SharedTerms []string
}

// Index is a TF-IDF model built over a fixed document set. Rebuild it
// whenever the underlying document set changes; it is not incrementally
// updatable.
type Index struct {
	docIDs     []string
	docVectors []map[string]float64
	idf        map[string]float64
}

// tokenize lower-cases and splits on non-letter/non-digit/non-underscore
// runes, then drops tokens shorter than MinTokenLength and stopwords
// (spec.md §4.10 steps 2).
func tokenize(s string) []string {
	raw := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	out := raw[:0]
	for _, tok := range raw {
		if utf8.RuneCountInString(tok) < MinTokenLength {
			continue
		}
		if stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func termFrequencies(tokens []string) map[string]float64 {
	counts := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		counts[tok]++
	}
	total := float64(len(tokens))
	if total == 0 {
		return counts
	}
	for term := range counts {
		counts[term] /= total
	}
	return counts
}

// Build constructs an Index over docs. Terms appearing in zero documents
// never occur. idf is ln(N/(1+df)), so a term present in N-1 documents
// gets idf 0 and a term present in every document gets a small negative
// idf, ln(N/(N+1)).
func Build(docs []Document) *Index {
	idx := &Index{
		idf: make(map[string]float64),
	}

	docFreq := make(map[string]int)
	rawTF := make([]map[string]float64, len(docs))

	for i, d := range docs {
		tf := termFrequencies(tokenize(d.Content))
		rawTF[i] = tf
		idx.docIDs = append(idx.docIDs, d.ID)
		for term := range tf {
			docFreq[term]++
		}
	}

	n := float64(len(docs))
	for term, df := range docFreq {
		idx.idf[term] = math.Log(n / (1 + float64(df)))
	}

	idx.docVectors = make([]map[string]float64, len(docs))
	for i, tf := range rawTF {
		vec := make(map[string]float64, len(tf))
		for term, freq := range tf {
			vec[term] = freq * idx.idf[term]
		}
		idx.docVectors[i] = vec
	}

	return idx
}

// vectorFor computes the TF-IDF vector of arbitrary text against the
// index's existing idf weights, used for ad hoc queries not already in
// the index.
func (idx *Index) vectorFor(content string) map[string]float64 {
	tf := termFrequencies(tokenize(content))
	vec := make(map[string]float64, len(tf))
	for term, freq := range tf {
		vec[term] = freq * idx.idf[term]
	}
	return vec
}

func cosineSimilarity(a, b map[string]float64) float64 {
	// Iterate the smaller map for the dot product.
	if len(a) > len(b) {
		a, b = b, a
	}

	var dot, normA, normB float64
	for term, va := range a {
		normA += va * va
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
	}
	for _, vb := range b {
		normB += vb * vb
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TopK returns the topK documents most similar to content, scores >=
// MinScore only, sorted descending by score then by id for stability.
func (idx *Index) TopK(content string, topK int) []Scored {
	query := idx.vectorFor(content)

	var results []Scored
	for i, vec := range idx.docVectors {
		score := cosineSimilarity(query, vec)
		if score < MinScore {
			continue
		}
		results = append(results, Scored{ID: idx.docIDs[i], Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// SimilarTo returns the topK documents most similar to the document
// already at docID within the index, excluding docID itself.
func (idx *Index) SimilarTo(docID string, topK int) []Scored {
	self, ok := idx.vectorByID(docID)
	if !ok {
		return nil
	}

	var results []Scored
	for i, vec := range idx.docVectors {
		if idx.docIDs[i] == docID {
			continue
		}
		score := cosineSimilarity(self, vec)
		if score < MinScore {
			continue
		}
		results = append(results, Scored{ID: idx.docIDs[i], Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

// RelatedTo is SimilarTo with each result annotated by its top
// sharedTermsN highest-weighted shared terms, the exact shape spec.md
// §4.10's find_related requires.
func (idx *Index) RelatedTo(docID string, topK, sharedTermsN int) []Related {
	self, ok := idx.vectorByID(docID)
	if !ok {
		return nil
	}

	var results []Related
	for i, vec := range idx.docVectors {
		if idx.docIDs[i] == docID {
			continue
		}
		score := cosineSimilarity(self, vec)
		if score < MinScore {
			continue
		}
		results = append(results, Related{
			ID:          idx.docIDs[i],
			Score:       score,
			SharedTerms: topSharedTerms(self, vec, sharedTermsN),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score == results[j].Score {
			return results[i].ID < results[j].ID
		}
		return results[i].Score > results[j].Score
	})

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results
}

func (idx *Index) vectorByID(docID string) (map[string]float64, bool) {
	for i, id := range idx.docIDs {
		if id == docID {
			return idx.docVectors[i], true
		}
	}
	return nil, false
}

// topSharedTerms ranks terms present in both vectors by their combined
// weight (product of the two TF-IDF weights) and returns up to n term
// strings, highest-weighted first.
func topSharedTerms(a, b map[string]float64, n int) []string {
	if len(a) > len(b) {
		a, b = b, a
	}

	type weighted struct {
		term   string
		weight float64
	}
	var shared []weighted
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			shared = append(shared, weighted{term: term, weight: wa * wb})
		}
	}

	sort.Slice(shared, func(i, j int) bool {
		if shared[i].weight == shared[j].weight {
			return shared[i].term < shared[j].term
		}
		return shared[i].weight > shared[j].weight
	})

	if n > 0 && n < len(shared) {
		shared = shared[:n]
	}
	out := make([]string, len(shared))
	for i, s := range shared {
		out[i] = s.term
	}
	return out
}
