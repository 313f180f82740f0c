package models

import (
	"strings"
	"time"
)

// MaxFilterRulesPerUser caps how many rules a single user may keep.
const MaxFilterRulesPerUser = 100

// FilterType selects what part of a tweet a rule matches against.
type FilterType string

const (
	FilterTypeKeyword     FilterType = "keyword"
	FilterTypeHashtag     FilterType = "hashtag"
	FilterTypeContentType FilterType = "content_type"
)

// ValidFilterType reports whether t is one of the known filter types.
func ValidFilterType(t FilterType) bool {
	switch t {
	case FilterTypeKeyword, FilterTypeHashtag, FilterTypeContentType:
		return true
	}
	return false
}

// FilterRule is a per-user feed filter. Unique per (user, type, value).
type FilterRule struct {
	ID         int        `json:"id"`
	UserID     int        `json:"user_id"`
	FilterType FilterType `json:"filter_type"`
	Value      string     `json:"value"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Matches reports whether the tweet passes this rule.
func (r *FilterRule) Matches(t *Tweet) bool {
	switch r.FilterType {
	case FilterTypeKeyword:
		return strings.Contains(strings.ToLower(t.Text), strings.ToLower(r.Value))
	case FilterTypeHashtag:
		return t.ContainsHashtag(r.Value)
	case FilterTypeContentType:
		return t.ContentClass() == r.Value
	}
	return false
}

// PassesFilters reports whether the tweet satisfies the rule set: rules of
// the same type are OR'd together, distinct types are AND'd. An empty set
// passes everything.
func PassesFilters(t *Tweet, rules []FilterRule) bool {
	if len(rules) == 0 {
		return true
	}
	required := make(map[FilterType]bool, 3)
	matched := make(map[FilterType]bool, 3)
	for i := range rules {
		required[rules[i].FilterType] = true
		if rules[i].Matches(t) {
			matched[rules[i].FilterType] = true
		}
	}
	for ft := range required {
		if !matched[ft] {
			return false
		}
	}
	return true
}
