package alcptprep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"
)

// AudioBaseURL is the public prefix under which generated audio is served.
const AudioBaseURL = "/api/audio"

// SpeechGenerator synthesizes question audio with the OpenAI TTS API and
// stores the result under a deterministic per-question file name, which is
// what makes the audio cache idempotent.
type SpeechGenerator struct {
	client     *openai.Client
	storageDir string
}

// NewSpeechGenerator creates the generator and its storage directory.
func NewSpeechGenerator(apiKey, storageDir string) (*SpeechGenerator, error) {
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio storage directory: %w", err)
	}
	return &SpeechGenerator{
		client:     openai.NewClient(apiKey),
		storageDir: storageDir,
	}, nil
}

// Synthesize generates speech for the question text, writes
// question_<id>.mp3 into the storage directory and returns the public URL.
func (g *SpeechGenerator) Synthesize(ctx context.Context, q *Question) (string, error) {
	VerboseLog("Generating audio for question %d", q.ID)

	resp, err := g.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Voice:          openai.VoiceAlloy,
		Input:          q.QuestionText,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", &CollaboratorError{Collaborator: "speech", Err: err}
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return "", &CollaboratorError{Collaborator: "speech", Err: err}
	}

	fileName := audioFileName(q.ID)
	if err := os.WriteFile(filepath.Join(g.storageDir, fileName), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	VerboseLog("Audio generated and saved for question %d", q.ID)
	return path.Join(AudioBaseURL, fileName), nil
}

// AudioExists reports whether the file behind a stored audio URL is still
// on disk. A stale URL (file pruned or volume replaced) means regenerate.
func (g *SpeechGenerator) AudioExists(audioURL string) bool {
	if audioURL == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(g.storageDir, path.Base(audioURL)))
	return err == nil
}

func audioFileName(questionID int) string {
	return fmt.Sprintf("question_%d.mp3", questionID)
}
