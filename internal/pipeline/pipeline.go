package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sna-ai/sna/internal/dedup"
	"github.com/sna-ai/sna/internal/models"
)

// TaskRegistry is the task lifecycle surface the pipeline drives.
// *taskregistry.Registry satisfies it.
type TaskRegistry interface {
	Create(taskType string) models.Task
	UpdateStatus(taskID string, status models.TaskStatus, result any, errMsg string) error
	UpdateProgress(taskID string, current, total int) error
}

// Deduplicator groups a batch of tweets. *dedup.Engine satisfies it.
type Deduplicator interface {
	Deduplicate(ctx context.Context, opts dedup.Options) (*models.DedupStats, error)
}

// Summarizer produces summary records for a batch of tweets.
// *summarizer.Summarizer satisfies it.
type Summarizer interface {
	Summarise(ctx context.Context, tweetIDs []string, forceRefresh bool, progress func(done, total int)) (*models.SummaryBatchResult, error)
}

const (
	defaultBatchSize  = 50
	defaultRunTimeout = 30 * time.Minute
)

// Config tunes one pipeline instance.
type Config struct {
	// BatchSize caps one summarisation call; larger inputs are split into
	// sequential batches so a big scrape cannot burn provider quota in one
	// burst.
	BatchSize  int
	RunTimeout time.Duration
}

// Pipeline is the post-scrape hook: freshly written tweet ids are grouped
// by the dedup engine and then summarised, tracked as one background task.
type Pipeline struct {
	registry   TaskRegistry
	dedup      Deduplicator
	summarizer Summarizer
	batchSize  int
	runTimeout time.Duration
	logger     *slog.Logger
}

func New(registry TaskRegistry, deduplicator Deduplicator, summarizer Summarizer, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	return &Pipeline{
		registry:   registry,
		dedup:      deduplicator,
		summarizer: summarizer,
		batchSize:  cfg.BatchSize,
		runTimeout: cfg.RunTimeout,
		logger:     logger,
	}
}

// Result is the terminal task payload of one pipeline run.
type Result struct {
	Deduplication      *models.DedupStats         `json:"deduplication,omitempty"`
	DeduplicationError string                     `json:"deduplication_error,omitempty"`
	Summarization      *models.SummaryBatchResult `json:"summarization,omitempty"`
	SummarizationError string                     `json:"summarization_error,omitempty"`
	Batches            int                        `json:"batches"`
}

// ProcessNewTweets registers a background task over the given tweet ids and
// returns its id without blocking. An empty batch creates no task.
func (p *Pipeline) ProcessNewTweets(tweetIDs []string) string {
	if len(tweetIDs) == 0 {
		return ""
	}
	task := p.registry.Create(models.TaskTypeAutoPipeline)
	go p.run(task.TaskID, tweetIDs)
	return task.TaskID
}

func (p *Pipeline) run(taskID string, tweetIDs []string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic in auto pipeline", "task_id", taskID, "panic", r)
			if err := p.registry.UpdateStatus(taskID, models.TaskStatusFailed, nil, fmt.Sprintf("panic: %v", r)); err != nil {
				p.logger.Error("failed to fail task after panic", "task_id", taskID, "error", err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.runTimeout)
	defer cancel()

	if err := p.registry.UpdateStatus(taskID, models.TaskStatusRunning, nil, ""); err != nil {
		p.logger.Error("failed to start pipeline task", "task_id", taskID, "error", err)
		return
	}
	if err := p.registry.UpdateProgress(taskID, 0, len(tweetIDs)); err != nil {
		p.logger.Warn("failed to record progress", "task_id", taskID, "error", err)
	}

	result := &Result{}

	// Grouping first, so the summariser can collapse each group onto its
	// representative. A dedup failure leaves the batch ungrouped but is no
	// reason to skip summarisation.
	stats, err := p.dedup.Deduplicate(ctx, dedup.Options{TweetIDs: tweetIDs})
	if err != nil {
		p.logger.Warn("auto pipeline dedup failed, summarising ungrouped",
			"task_id", taskID, "tweets", len(tweetIDs), "error", err)
		result.DeduplicationError = err.Error()
	} else {
		result.Deduplication = stats
	}

	var chunkErrs []string
	for start := 0; start < len(tweetIDs); start += p.batchSize {
		end := min(start+p.batchSize, len(tweetIDs))
		chunk := tweetIDs[start:end]
		result.Batches++

		batch, err := p.summarizer.Summarise(ctx, chunk, false, nil)
		if err != nil {
			p.logger.Warn("auto pipeline summarisation batch failed",
				"task_id", taskID, "batch", result.Batches, "size", len(chunk), "error", err)
			chunkErrs = append(chunkErrs, fmt.Sprintf("batch %d: %v", result.Batches, err))
			continue
		}
		if result.Summarization == nil {
			result.Summarization = batch
		} else {
			mergeBatchResults(result.Summarization, batch)
		}

		if err := p.registry.UpdateProgress(taskID, end, len(tweetIDs)); err != nil {
			p.logger.Warn("failed to record progress", "task_id", taskID, "error", err)
		}
	}
	if len(chunkErrs) > 0 {
		result.SummarizationError = strings.Join(chunkErrs, "; ")
	}

	if result.Summarization == nil && result.Batches > 0 {
		if err := p.registry.UpdateStatus(taskID, models.TaskStatusFailed, result, result.SummarizationError); err != nil {
			p.logger.Error("failed to fail pipeline task", "task_id", taskID, "error", err)
		}
		return
	}
	if err := p.registry.UpdateStatus(taskID, models.TaskStatusCompleted, result, ""); err != nil {
		p.logger.Error("failed to complete pipeline task", "task_id", taskID, "error", err)
	}
	p.logger.Info("auto pipeline complete",
		"task_id", taskID,
		"tweets", len(tweetIDs),
		"batches", result.Batches,
		"dedup_ok", result.DeduplicationError == "",
		"summary_errors", len(chunkErrs))
}

// mergeBatchResults folds src into dst so a split run reports like a single
// batch.
func mergeBatchResults(dst, src *models.SummaryBatchResult) {
	dst.TotalTweets += src.TotalTweets
	dst.TotalGroups += src.TotalGroups
	dst.IndependentTweets += src.IndependentTweets
	dst.CacheHits += src.CacheHits
	dst.CacheMisses += src.CacheMisses
	dst.TotalTokens += src.TotalTokens
	dst.TotalCostUSD += src.TotalCostUSD
	dst.ProcessingTimeMS += src.ProcessingTimeMS
	for provider, n := range src.ProvidersUsed {
		if dst.ProvidersUsed == nil {
			dst.ProvidersUsed = make(map[string]int)
		}
		dst.ProvidersUsed[provider] += n
	}
	for id, msg := range src.Errors {
		if dst.Errors == nil {
			dst.Errors = make(map[string]string)
		}
		dst.Errors[id] = msg
	}
}
