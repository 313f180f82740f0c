package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sna-ai/sna/internal/dedup"
	"github.com/sna-ai/sna/internal/models"
	"github.com/sna-ai/sna/internal/taskregistry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDedup struct {
	mu     sync.Mutex
	calls  [][]string
	err    error
	panics bool
}

func (f *fakeDedup) Deduplicate(ctx context.Context, opts dedup.Options) (*models.DedupStats, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), opts.TweetIDs...))
	f.mu.Unlock()
	if f.panics {
		panic("dedup exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.DedupStats{TotalTweets: len(opts.TweetIDs)}, nil
}

type fakeBatchSummarizer struct {
	mu    sync.Mutex
	calls [][]string
	fn    func(call int, chunk []string) (*models.SummaryBatchResult, error)
}

func (f *fakeBatchSummarizer) Summarise(ctx context.Context, tweetIDs []string, forceRefresh bool, progress func(done, total int)) (*models.SummaryBatchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), tweetIDs...))
	call := len(f.calls)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(call, tweetIDs)
	}
	return &models.SummaryBatchResult{
		TotalTweets:   len(tweetIDs),
		CacheMisses:   len(tweetIDs),
		TotalTokens:   10 * len(tweetIDs),
		ProvidersUsed: map[string]int{"openrouter": len(tweetIDs)},
	}, nil
}

func (f *fakeBatchSummarizer) callsCopy() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type pipelineFixture struct {
	p   *Pipeline
	reg *taskregistry.Registry
	dd  *fakeDedup
	sum *fakeBatchSummarizer
}

func newTestPipeline(batchSize int) *pipelineFixture {
	f := &pipelineFixture{
		reg: taskregistry.New(),
		dd:  &fakeDedup{},
		sum: &fakeBatchSummarizer{},
	}
	f.p = New(f.reg, f.dd, f.sum, Config{BatchSize: batchSize, RunTimeout: 5 * time.Second}, testLogger())
	return f
}

func waitForTerminal(t *testing.T, reg *taskregistry.Registry, taskID string) models.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := reg.Get(taskID)
		if err != nil {
			t.Fatalf("Get(%s): %v", taskID, err)
		}
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return models.Task{}
}

func TestProcessNewTweetsHappyPath(t *testing.T) {
	f := newTestPipeline(0)
	ids := []string{"t1", "t2", "t3"}

	taskID := f.p.ProcessNewTweets(ids)
	if taskID == "" {
		t.Fatal("expected a task id")
	}
	task := waitForTerminal(t, f.reg, taskID)

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", task.Status, task.Error)
	}
	if task.TaskType != models.TaskTypeAutoPipeline {
		t.Errorf("task type = %q, want %q", task.TaskType, models.TaskTypeAutoPipeline)
	}
	result, ok := task.Result.(*Result)
	if !ok {
		t.Fatalf("result type = %T, want *Result", task.Result)
	}
	if result.Deduplication == nil || result.Deduplication.TotalTweets != 3 {
		t.Errorf("dedup stats = %+v, want 3 tweets", result.Deduplication)
	}
	if result.Summarization == nil || result.Summarization.TotalTweets != 3 {
		t.Errorf("summary result = %+v, want 3 tweets", result.Summarization)
	}
	if result.Batches != 1 {
		t.Errorf("batches = %d, want 1", result.Batches)
	}

	if len(f.dd.calls) != 1 || len(f.dd.calls[0]) != 3 {
		t.Errorf("dedup calls = %v, want one call over the full batch", f.dd.calls)
	}
	if calls := f.sum.callsCopy(); len(calls) != 1 || len(calls[0]) != 3 {
		t.Errorf("summarise calls = %v, want one call over the full batch", calls)
	}
	if task.Progress.Current != 3 || task.Progress.Total != 3 {
		t.Errorf("progress = %d/%d, want 3/3", task.Progress.Current, task.Progress.Total)
	}
}

func TestProcessNewTweetsSplitsBatches(t *testing.T) {
	f := newTestPipeline(2)
	ids := []string{"t1", "t2", "t3", "t4", "t5"}

	taskID := f.p.ProcessNewTweets(ids)
	task := waitForTerminal(t, f.reg, taskID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", task.Status, task.Error)
	}

	calls := f.sum.callsCopy()
	want := [][]string{{"t1", "t2"}, {"t3", "t4"}, {"t5"}}
	if len(calls) != len(want) {
		t.Fatalf("summarise calls = %d, want %d sequential batches", len(calls), len(want))
	}
	for i := range want {
		if len(calls[i]) != len(want[i]) {
			t.Fatalf("batch %d = %v, want %v", i, calls[i], want[i])
		}
		for j := range want[i] {
			if calls[i][j] != want[i][j] {
				t.Errorf("batch %d = %v, want %v", i, calls[i], want[i])
				break
			}
		}
	}

	result := task.Result.(*Result)
	if result.Batches != 3 {
		t.Errorf("batches = %d, want 3", result.Batches)
	}
	if result.Summarization.TotalTweets != 5 {
		t.Errorf("merged TotalTweets = %d, want 5", result.Summarization.TotalTweets)
	}
	if result.Summarization.TotalTokens != 50 {
		t.Errorf("merged TotalTokens = %d, want 50", result.Summarization.TotalTokens)
	}
	if result.Summarization.ProvidersUsed["openrouter"] != 5 {
		t.Errorf("merged ProvidersUsed = %v, want openrouter 5", result.Summarization.ProvidersUsed)
	}
	if task.Progress.Current != 5 || task.Progress.Total != 5 {
		t.Errorf("progress = %d/%d, want 5/5", task.Progress.Current, task.Progress.Total)
	}
}

func TestProcessNewTweetsDedupFailureStillSummarises(t *testing.T) {
	f := newTestPipeline(0)
	f.dd.err = errors.New("tx deadlock")

	taskID := f.p.ProcessNewTweets([]string{"t1", "t2"})
	task := waitForTerminal(t, f.reg, taskID)

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed despite dedup failure", task.Status)
	}
	result := task.Result.(*Result)
	if result.DeduplicationError == "" {
		t.Error("dedup failure should be recorded in the result")
	}
	if result.Deduplication != nil {
		t.Error("no dedup stats expected on failure")
	}
	if result.Summarization == nil || result.Summarization.TotalTweets != 2 {
		t.Errorf("summary result = %+v, want the full batch summarised", result.Summarization)
	}
}

func TestProcessNewTweetsAllBatchesFail(t *testing.T) {
	f := newTestPipeline(0)
	f.sum.fn = func(call int, chunk []string) (*models.SummaryBatchResult, error) {
		return nil, errors.New("store down")
	}

	taskID := f.p.ProcessNewTweets([]string{"t1"})
	task := waitForTerminal(t, f.reg, taskID)

	if task.Status != models.TaskStatusFailed {
		t.Fatalf("status = %s, want failed when no batch succeeded", task.Status)
	}
	if task.Error == "" {
		t.Error("task error should name the failure")
	}
	result, ok := task.Result.(*Result)
	if !ok {
		t.Fatalf("result type = %T, want *Result even on failure", task.Result)
	}
	if result.Batches != 1 || result.Summarization != nil {
		t.Errorf("result = %+v, want one failed batch and no summary", result)
	}
}

func TestProcessNewTweetsPartialBatchFailure(t *testing.T) {
	f := newTestPipeline(2)
	f.sum.fn = func(call int, chunk []string) (*models.SummaryBatchResult, error) {
		if call == 2 {
			return nil, errors.New("provider meltdown")
		}
		return &models.SummaryBatchResult{TotalTweets: len(chunk), TotalTokens: 10}, nil
	}

	taskID := f.p.ProcessNewTweets([]string{"t1", "t2", "t3", "t4", "t5", "t6"})
	task := waitForTerminal(t, f.reg, taskID)

	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed when some batches succeed", task.Status)
	}
	result := task.Result.(*Result)
	if result.SummarizationError == "" || !containsAll(result.SummarizationError, "batch 2", "provider meltdown") {
		t.Errorf("SummarizationError = %q, want the failed batch named", result.SummarizationError)
	}
	if result.Summarization.TotalTweets != 4 {
		t.Errorf("merged TotalTweets = %d, want 4 (batches 1 and 3)", result.Summarization.TotalTweets)
	}
	if result.Summarization.TotalTokens != 20 {
		t.Errorf("merged TotalTokens = %d, want 20", result.Summarization.TotalTokens)
	}
}

func TestProcessNewTweetsEmptyBatch(t *testing.T) {
	f := newTestPipeline(0)
	if taskID := f.p.ProcessNewTweets(nil); taskID != "" {
		t.Errorf("task id = %q, want empty for an empty batch", taskID)
	}
	if tasks := f.reg.List("", ""); len(tasks) != 0 {
		t.Errorf("tasks = %d, want none", len(tasks))
	}
}

func TestProcessNewTweetsPanicMarksFailed(t *testing.T) {
	f := newTestPipeline(0)
	f.dd.panics = true

	taskID := f.p.ProcessNewTweets([]string{"t1"})
	task := waitForTerminal(t, f.reg, taskID)

	if task.Status != models.TaskStatusFailed {
		t.Fatalf("status = %s, want failed after panic", task.Status)
	}
	if !containsAll(task.Error, "panic", "dedup exploded") {
		t.Errorf("task error = %q, want the panic surfaced", task.Error)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
