package jobs

import (
	"context"
	"log"
	"sync"

	"github.com/nordfire/munikb/internal/domain"
	"github.com/nordfire/munikb/internal/service"
)

// FeedbackQueue buffers reviewer feedback in memory until the learning
// worker drains it. Feedback records are ephemeral by design: they are never
// persisted, only the insights extracted from them are.
type FeedbackQueue struct {
	mu      sync.Mutex
	records []*domain.FeedbackRecord
}

func NewFeedbackQueue() *FeedbackQueue {
	return &FeedbackQueue{}
}

// Enqueue appends one feedback record.
func (q *FeedbackQueue) Enqueue(record *domain.FeedbackRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, record)
}

// Len reports how many records are waiting.
func (q *FeedbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Drain removes and returns all queued records.
func (q *FeedbackQueue) Drain() []*domain.FeedbackRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.records
	q.records = nil
	return drained
}

// Requeue puts records back at the front of the queue, used when a learning
// pass cannot run yet.
func (q *FeedbackQueue) Requeue(records []*domain.FeedbackRecord) {
	if len(records) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(records, q.records...)
}

// FeedbackAnalysis is the slice of the feedback analyzer the processor
// needs.
type FeedbackAnalysis interface {
	Analyze(ctx context.Context, batch []*domain.FeedbackRecord, documentType string) (*service.AnalyzeResult, error)
}

// LearningProcessor drains the feedback queue on each pass and feeds the
// batch to the analyzer. Too little feedback is put back to wait for the
// next pass; pattern extraction on a handful of records just amplifies
// noise.
type LearningProcessor struct {
	queue       *FeedbackQueue
	analyzer    FeedbackAnalysis
	minFeedback int
}

func NewLearningProcessor(queue *FeedbackQueue, analyzer FeedbackAnalysis, minFeedback int) *LearningProcessor {
	if minFeedback < 1 {
		minFeedback = 1
	}
	return &LearningProcessor{
		queue:       queue,
		analyzer:    analyzer,
		minFeedback: minFeedback,
	}
}

// Process runs one learning pass.
func (p *LearningProcessor) Process(ctx context.Context) error {
	batch := p.queue.Drain()
	if len(batch) == 0 {
		return nil
	}
	if len(batch) < p.minFeedback {
		p.queue.Requeue(batch)
		log.Printf("learning pass skipped: %d feedback records queued, need %d", len(batch), p.minFeedback)
		return nil
	}

	result, err := p.analyzer.Analyze(ctx, batch, "")
	if err != nil {
		// Cancellation mid-analysis: the unprocessed feedback is gone, but
		// every chunk stored before the cut stays committed.
		return err
	}

	log.Printf("learning pass complete: %d feedback records, %d insights stored, %d dropped, %d partitions failed",
		len(batch), len(result.Stored.Stored), result.Dropped, len(result.PartitionFailures))
	for municipality, partitionErr := range result.PartitionFailures {
		log.Printf("learning pass: partition %q failed: %v", municipality, partitionErr)
	}
	return nil
}
