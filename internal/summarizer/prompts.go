package summarizer

import (
	"fmt"

	"github.com/sna-ai/sna/internal/models"
)

// minGenerateLength is the text length (in runes) below which no LLM call
// is made and the original text is reused verbatim.
const minGenerateLength = 30

const (
	summaryMaxTokens     = 1000
	translationMaxTokens = 2000
	defaultTemperature   = 0.3
)

const summarySystemPrompt = "You are a professional social media analyst. " +
	"You write accurate, neutral summaries in Simplified Chinese. " +
	"Return only the summary text, with no preamble or commentary."

const translationSystemPrompt = "You are a professional translator. " +
	"You translate social media posts into natural Simplified Chinese, " +
	"preserving meaning, tone, and any technical terms. " +
	"Return only the translation, with no preamble or commentary."

// summaryLengthBand returns the requested summary length range for a text
// of inputLen runes: half to one-and-a-half times the input, capped at the
// storage limit.
func summaryLengthBand(inputLen int) (lo, hi int) {
	lo = (inputLen + 1) / 2
	hi = (3*inputLen + 1) / 2
	if hi > models.MaxSummaryLength {
		hi = models.MaxSummaryLength
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

func buildSummaryPrompt(text string, lo, hi int) string {
	return fmt.Sprintf(
		"Summarize the following post in Simplified Chinese. "+
			"The summary must be between %d and %d characters long and capture "+
			"the key facts and intent of the original.\n\nPost:\n%s",
		lo, hi, text)
}

func buildTranslationPrompt(text string) string {
	return fmt.Sprintf(
		"Translate the following post into Simplified Chinese.\n\nPost:\n%s",
		text)
}
