package alcptprep

import (
	"context"
	"log"
	"strings"
)

// AnswerService grades submissions and keeps user progress current.
type AnswerService struct {
	store *Store
	cache *ArtifactCache
}

// NewAnswerService wires the service to its store and artifact cache.
func NewAnswerService(store *Store, cache *ArtifactCache) *AnswerService {
	return &AnswerService{store: store, cache: cache}
}

// SubmitAnswer validates a submission, computes correctness by exact
// string comparison, makes sure an explanation exists (generating one
// synchronously if missing - a failure there is non-fatal), records the
// answer and returns the feedback payload.
func (s *AnswerService) SubmitAnswer(ctx context.Context, userID string, questionID int, selectedAnswer string) (*AnswerFeedback, error) {
	question, err := s.store.GetQuestionByID(ctx, questionID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(selectedAnswer) == "" {
		return nil, &ValidationError{Msg: "selectedAnswer is required"}
	}

	// Exact equality, no case or whitespace normalization: the options are
	// served verbatim and submitted verbatim.
	isCorrect := selectedAnswer == question.CorrectAnswer

	explanation := question.Explanation
	if explanation == nil {
		explanation, err = s.cache.EnsureExplanation(ctx, questionID)
		if err != nil {
			// Grading stays available even when the explanation service is
			// down; the feedback simply ships without one.
			log.Printf("Failed to generate explanation for question %d: %v", questionID, err)
			explanation = nil
		}
	}

	answer := &UserAnswer{
		UserID:     userID,
		QuestionID: questionID,
		Answer:     selectedAnswer,
		IsCorrect:  isCorrect,
	}
	if err := s.store.RecordAnswer(ctx, answer, question.TestID); err != nil {
		return nil, err
	}

	return &AnswerFeedback{
		IsCorrect:         isCorrect,
		CorrectAnswer:     question.CorrectAnswer,
		ArabicExplanation: explanation,
		SelectedAnswer:    selectedAnswer,
	}, nil
}
