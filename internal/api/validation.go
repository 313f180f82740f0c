package api

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/scraper"
)

// ValidationError carries the offending field for 422 responses.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Fetch size bounds accepted by the manual scrape endpoint.
const (
	MinScrapeLimit = 1
	MaxScrapeLimit = 1000
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// parseUsernames splits a comma-separated handle list, trimming whitespace
// and a leading '@'. Order is preserved, empty segments are dropped.
func parseUsernames(csv string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		name := strings.TrimPrefix(strings.TrimSpace(part), "@")
		if name == "" {
			continue
		}
		if !scraper.ValidUsername(name) {
			return nil, ValidationError{Field: "usernames", Message: fmt.Sprintf("invalid handle %q", name)}
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, ValidationError{Field: "usernames", Message: "at least one username is required"}
	}
	return out, nil
}

// ValidateScrapeLimit checks an explicit fetch size override.
func ValidateScrapeLimit(limit int) error {
	if limit < MinScrapeLimit || limit > MaxScrapeLimit {
		return ValidationError{Field: "limit", Message: fmt.Sprintf("limit must be between %d and %d", MinScrapeLimit, MaxScrapeLimit)}
	}
	return nil
}

// ValidateEmail checks basic address shape.
func ValidateEmail(email string) error {
	if email == "" {
		return ValidationError{Field: "email", Message: "Email is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return ValidationError{Field: "email", Message: "Invalid email address"}
	}
	return nil
}

// ValidatePassword enforces the minimum length policy. Length is measured
// in bytes, matching how the hash input is built.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ValidationError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)}
	}
	return nil
}

// ValidateFilterRule checks a new feed filter rule.
func ValidateFilterRule(filterType models.FilterType, value string) error {
	if !models.ValidFilterType(filterType) {
		return ValidationError{Field: "filter_type", Message: "Filter type must be keyword, hashtag or content_type"}
	}
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: "value", Message: "Value is required"}
	}
	if filterType == models.FilterTypeContentType {
		switch value {
		case "original", "retweet", "quote", "reply":
		default:
			return ValidationError{Field: "value", Message: "Content type must be original, retweet, quote or reply"}
		}
	}
	return nil
}

// ValidateFollowPriority checks a user follow priority.
func ValidateFollowPriority(priority int) error {
	if priority < models.MinFollowPriority || priority > models.MaxFollowPriority {
		return ValidationError{Field: "priority", Message: fmt.Sprintf("Priority must be between %d and %d", models.MinFollowPriority, models.MaxFollowPriority)}
	}
	return nil
}
