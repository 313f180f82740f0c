package dedup

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

var (
	urlRe     = regexp.MustCompile(`https?://\S+`)
	mentionRe = regexp.MustCompile(`@\w+`)
)

// preprocessText strips URLs and @mentions, lowercases, and collapses
// whitespace. This is the form the vectoriser sees; retweet prefixes and
// link shorteners must not dominate the similarity signal.
func preprocessText(s string) string {
	s = urlRe.ReplaceAllString(s, " ")
	s = mentionRe.ReplaceAllString(s, " ")
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// sparseVec is a term-index to weight map. Vectors produced by vectorize
// are L2-normalised, so their dot product is the cosine similarity.
type sparseVec map[int]float64

// vectorize fits TF-IDF weights over docs and returns one normalised
// vector per document. A document with no tokens yields a nil vector,
// which has zero similarity to everything.
func vectorize(docs []string) []sparseVec {
	vocab := make(map[string]int)
	df := make([]int, 0, 64)
	tokenized := make([][]string, len(docs))

	for i, doc := range docs {
		tokens := tokenize(doc)
		tokenized[i] = tokens
		seen := make(map[int]bool, len(tokens))
		for _, tok := range tokens {
			idx, ok := vocab[tok]
			if !ok {
				idx = len(df)
				vocab[tok] = idx
				df = append(df, 0)
			}
			if !seen[idx] {
				seen[idx] = true
				df[idx]++
			}
		}
	}

	// Smoothed IDF, as if one extra document contained every term. Keeps
	// weights finite for terms present in all documents.
	n := float64(len(docs))
	idf := make([]float64, len(df))
	for i, d := range df {
		idf[i] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vecs := make([]sparseVec, len(docs))
	for i, tokens := range tokenized {
		if len(tokens) == 0 {
			continue
		}
		vec := make(sparseVec, len(tokens))
		for _, tok := range tokens {
			idx := vocab[tok]
			vec[idx] += idf[idx]
		}
		norm := 0.0
		for _, w := range vec {
			norm += w * w
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			continue
		}
		for idx := range vec {
			vec[idx] /= norm
		}
		vecs[i] = vec
	}
	return vecs
}

// dot returns the cosine similarity of two normalised sparse vectors.
func dot(a, b sparseVec) float64 {
	if len(a) > len(b) {
		a, b = b, a
	}
	sum := 0.0
	for idx, w := range a {
		if bw, ok := b[idx]; ok {
			sum += w * bw
		}
	}
	return sum
}

// unionFind implements single-linkage clustering: merging every pair at or
// above the threshold is equivalent to taking connected components of the
// threshold graph.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
