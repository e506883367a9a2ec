package batch

import (
	"context"
	"sync"

	"github.com/TurboKach/ai-reviewer/pkg/models"
)

// Result is the outcome of reviewing a single batch.
type Result struct {
	BatchID     string
	Files       []models.ChangedFile
	Suggestions []models.Suggestion
	Warnings    []string
	Err         error
}

// ReviewFunc reviews one batch of changed files.
type ReviewFunc func(ctx context.Context, batchID string, files []models.ChangedFile) *Result

// TaskQueue runs batch reviews through a bounded worker pool. Batches are
// independent; results are returned in submission order so downstream
// output stays deterministic.
type TaskQueue struct {
	maxWorkers int
}

// NewTaskQueue creates a task queue with the given concurrency bound.
func NewTaskQueue(maxWorkers int) *TaskQueue {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &TaskQueue{maxWorkers: maxWorkers}
}

type task struct {
	index   int
	batchID string
	files   []models.ChangedFile
}

// ProcessAll reviews every batch with at most maxWorkers in flight.
// Cancellation takes effect between batches: in-flight reviews observe ctx
// through the ReviewFunc, and queued batches are reported as cancelled
// without being started.
func (q *TaskQueue) ProcessAll(ctx context.Context, batches [][]models.ChangedFile, ids []string, review ReviewFunc) []*Result {
	results := make([]*Result, len(batches))

	taskCh := make(chan task, len(batches))
	for i, files := range batches {
		taskCh <- task{index: i, batchID: ids[i], files: files}
	}
	close(taskCh)

	workerCount := q.maxWorkers
	if workerCount > len(batches) {
		workerCount = len(batches)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskCh {
				var result *Result
				if err := ctx.Err(); err != nil {
					result = &Result{BatchID: t.batchID, Files: t.files, Err: err}
				} else {
					result = review(ctx, t.batchID, t.files)
					result.BatchID = t.batchID
					result.Files = t.files
				}

				mu.Lock()
				results[t.index] = result
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return results
}
