package alcptprep

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchResult summarizes one batch run. Partial failure never aborts a
// batch; it is accounted for here instead.
type BatchResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// BatchOptimizer generates artifacts for many questions at once in
// rate-limited waves: fixed-size groups, a concurrency cap inside each
// group, and a mandatory delay between groups so the external APIs are
// never overwhelmed.
type BatchOptimizer struct {
	cache *ArtifactCache

	maxConcurrency int
	batchSize      int
	batchDelay     time.Duration

	// audio synthesis is slower and pricier, so smaller waves, longer gaps
	audioBatchSize  int
	audioBatchDelay time.Duration
}

// NewBatchOptimizer creates an optimizer with the standard limits.
func NewBatchOptimizer(cache *ArtifactCache) *BatchOptimizer {
	return &BatchOptimizer{
		cache:           cache,
		maxConcurrency:  3,
		batchSize:       5,
		batchDelay:      2 * time.Second,
		audioBatchSize:  2,
		audioBatchDelay: 3 * time.Second,
	}
}

// BatchGenerateExplanations fills missing explanations for the given
// questions.
func (b *BatchOptimizer) BatchGenerateExplanations(ctx context.Context, questions []*Question) *BatchResult {
	var needing []*Question
	for _, q := range questions {
		if q.Explanation == nil {
			needing = append(needing, q)
		}
	}
	if len(needing) == 0 {
		return &BatchResult{Skipped: len(questions)}
	}

	fill := func(q *Question) error {
		VerboseLog("Generating Arabic explanation for question %d...", q.ID)
		_, err := b.cache.EnsureExplanation(ctx, q.ID)
		return err
	}

	result := b.runWaves(ctx, needing, b.batchSize, b.batchDelay, fill)
	result.Skipped = len(questions) - len(needing)
	VerboseLog("Batch explanation generation complete: %d processed, %d failed", result.Processed, result.Failed)
	return result
}

// BatchGenerateAudio fills missing audio for the listening questions in
// the given set.
func (b *BatchOptimizer) BatchGenerateAudio(ctx context.Context, questions []*Question) *BatchResult {
	var needing []*Question
	for _, q := range questions {
		if q.Type() == TypeListening && q.AudioURL == "" {
			needing = append(needing, q)
		}
	}
	if len(needing) == 0 {
		return &BatchResult{Skipped: len(questions)}
	}

	fill := func(q *Question) error {
		VerboseLog("Generating audio for question %d...", q.ID)
		_, err := b.cache.EnsureAudio(ctx, q.ID)
		return err
	}

	result := b.runWaves(ctx, needing, b.audioBatchSize, b.audioBatchDelay, fill)
	result.Skipped = len(questions) - len(needing)
	VerboseLog("Batch audio generation complete: %d processed, %d failed", result.Processed, result.Failed)
	return result
}

// runWaves processes questions in fixed-size groups with a delay between
// groups. Every member of a group is settled before the delay begins.
func (b *BatchOptimizer) runWaves(ctx context.Context, questions []*Question, batchSize int, delay time.Duration, fill func(*Question) error) *BatchResult {
	result := &BatchResult{}

	for i := 0; i < len(questions); i += batchSize {
		end := i + batchSize
		if end > len(questions) {
			end = len(questions)
		}
		batchNum := i/batchSize + 1

		for _, err := range b.processConcurrently(questions[i:end], fill) {
			if err == nil {
				result.Processed++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %v", batchNum, err))
			}
		}

		if end < len(questions) && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return result
			}
		}
	}
	return result
}

// processConcurrently runs fill over the group in sub-groups of at most
// maxConcurrency simultaneous calls. When a sub-group fails, its members
// are retried one by one to isolate the failing item; an item that still
// fails is recorded but does not stop the rest.
func (b *BatchOptimizer) processConcurrently(group []*Question, fill func(*Question) error) []error {
	errs := make([]error, len(group))

	for i := 0; i < len(group); i += b.maxConcurrency {
		end := i + b.maxConcurrency
		if end > len(group) {
			end = len(group)
		}

		g := new(errgroup.Group)
		for j := i; j < end; j++ {
			g.Go(func() error {
				errs[j] = fill(group[j])
				return errs[j]
			})
		}

		if g.Wait() != nil {
			// Retry the sub-group sequentially to isolate failures.
			for j := i; j < end; j++ {
				if errs[j] != nil {
					errs[j] = fill(group[j])
				}
			}
		}
	}
	return errs
}

// RetryWithBackoff retries op with delay = baseDelay * 2^(attempt-1),
// returning the last failure when all attempts are exhausted.
func RetryWithBackoff(ctx context.Context, op func() error, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt == maxRetries {
			break
		}
		delay := baseDelay << (attempt - 1)
		VerboseLog("Retry attempt %d/%d in %s...", attempt, maxRetries, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// Per-unit prices, rough figures from the providers' public pricing.
const (
	geminiCostPerExplanation = 0.001
	openaiCostPerAudio       = 0.006
)

// CostSavings compares generating only what is missing against a full
// regeneration without caching.
type CostSavings struct {
	WithoutCaching  float64 `json:"withoutCaching"`
	WithCaching     float64 `json:"withCaching"`
	PercentageSaved int     `json:"percentageSaved"`
}

// CostEstimate reports what a batch run over the given questions would
// cost.
type CostEstimate struct {
	ExplanationsNeeded  int         `json:"arabicExplanationsNeeded"`
	AudioNeeded         int         `json:"audioGenerationsNeeded"`
	EstimatedGeminiCost float64     `json:"estimatedGeminiCost"`
	EstimatedOpenAICost float64     `json:"estimatedOpenaiCost"`
	TotalEstimatedCost  float64     `json:"totalEstimatedCost"`
	Savings             CostSavings `json:"savings"`
}

// EstimateCosts is a pure computation over the current artifact state.
func EstimateCosts(questions []*Question) *CostEstimate {
	explanationsNeeded := 0
	audioNeeded := 0
	listening := 0
	for _, q := range questions {
		if q.Explanation == nil {
			explanationsNeeded++
		}
		if q.Type() == TypeListening {
			listening++
			if q.AudioURL == "" {
				audioNeeded++
			}
		}
	}

	geminiCost := float64(explanationsNeeded) * geminiCostPerExplanation
	openaiCost := float64(audioNeeded) * openaiCostPerAudio
	total := geminiCost + openaiCost
	withoutCaching := float64(len(questions))*geminiCostPerExplanation + float64(listening)*openaiCostPerAudio

	saved := 0
	if withoutCaching > 0 {
		saved = int(100 - total/withoutCaching*100 + 0.5)
	}

	return &CostEstimate{
		ExplanationsNeeded:  explanationsNeeded,
		AudioNeeded:         audioNeeded,
		EstimatedGeminiCost: geminiCost,
		EstimatedOpenAICost: openaiCost,
		TotalEstimatedCost:  total,
		Savings: CostSavings{
			WithoutCaching:  withoutCaching,
			WithCaching:     total,
			PercentageSaved: saved,
		},
	}
}
