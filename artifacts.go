package alcptprep

import (
	"context"
	"fmt"
	"sync"
)

// AudioSynthesizer is the text-to-speech collaborator boundary.
type AudioSynthesizer interface {
	Synthesize(ctx context.Context, q *Question) (string, error)
	AudioExists(audioURL string) bool
}

// ExplanationGenerator is the generative-language collaborator boundary.
type ExplanationGenerator interface {
	Explain(ctx context.Context, q *Question) (*ArabicExplanation, error)
}

// ArtifactCache is the single fill-if-absent routine for generated
// artifacts. Both the synchronous request path and the background queue go
// through it, so two concurrent requests for the same missing artifact
// serialize on a per-(question, kind) lock instead of both generating.
type ArtifactCache struct {
	store     *Store
	speech    AudioSynthesizer
	explainer ExplanationGenerator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewArtifactCache wires the cache to its store and collaborators.
func NewArtifactCache(store *Store, speech AudioSynthesizer, explainer ExplanationGenerator) *ArtifactCache {
	return &ArtifactCache{
		store:     store,
		speech:    speech,
		explainer: explainer,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (c *ArtifactCache) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// EnsureAudio returns the audio URL for a listening question, synthesizing
// and persisting it on first request. Reading questions are rejected with
// a ValidationError. A cached URL whose file has vanished from disk is
// regenerated.
func (c *ArtifactCache) EnsureAudio(ctx context.Context, questionID int) (string, error) {
	q, err := c.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		return "", err
	}
	if q.Type() != TypeListening {
		return "", &ValidationError{Msg: "audio not available for reading/grammar questions"}
	}
	if q.AudioURL != "" && c.speech.AudioExists(q.AudioURL) {
		return q.AudioURL, nil
	}

	lock := c.lockFor(fmt.Sprintf("audio:%d", questionID))
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: another caller may have filled it.
	q, err = c.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		return "", err
	}
	if q.AudioURL != "" && c.speech.AudioExists(q.AudioURL) {
		return q.AudioURL, nil
	}

	audioURL, err := c.speech.Synthesize(ctx, q)
	if err != nil {
		return "", err
	}
	if err := c.store.UpdateQuestionAudio(ctx, questionID, audioURL); err != nil {
		return "", err
	}
	return audioURL, nil
}

// EnsureExplanation returns the Arabic explanation for a question,
// generating, validating and persisting it on first request.
func (c *ArtifactCache) EnsureExplanation(ctx context.Context, questionID int) (*ArabicExplanation, error) {
	q, err := c.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.Explanation != nil {
		return q.Explanation, nil
	}

	lock := c.lockFor(fmt.Sprintf("explanation:%d", questionID))
	lock.Lock()
	defer lock.Unlock()

	q, err = c.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q.Explanation != nil {
		return q.Explanation, nil
	}

	exp, err := c.explainer.Explain(ctx, q)
	if err != nil {
		return nil, err
	}
	if err := c.store.UpdateQuestionExplanation(ctx, questionID, exp); err != nil {
		return nil, err
	}
	return exp, nil
}
