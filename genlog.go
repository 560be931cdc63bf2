package alcptprep

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenerationLogger writes collaborator prompts and responses for one run
// to a file under log/, so a bad explanation batch can be inspected later.
type GenerationLogger struct {
	file *os.File
	mu   sync.Mutex
	name string
}

// NewGenerationLogger creates a log file named after the run (for example
// the test number being prewarmed).
func NewGenerationLogger(name string) (*GenerationLogger, error) {
	if err := os.MkdirAll("log", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := filepath.Join("log", fmt.Sprintf("%s.log", name))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &GenerationLogger{file: file, name: name}
	logger.Logf("=== Generation Log: %s ===\n", name)
	logger.Logf("Started: %s\n\n", time.Now().Format(time.RFC3339))
	return logger, nil
}

// Logf writes a formatted log entry with timestamp.
func (gl *GenerationLogger) Logf(format string, args ...interface{}) {
	gl.mu.Lock()
	defer gl.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(gl.file, "[%s] %s", timestamp, fmt.Sprintf(format, args...))
	gl.file.Sync()
}

// LogRequest logs an outgoing collaborator prompt.
func (gl *GenerationLogger) LogRequest(collaborator, prompt string) {
	gl.Logf("=== REQUEST (%s) ===\n%s\n====================\n\n", collaborator, prompt)
}

// LogResponse logs a raw collaborator response.
func (gl *GenerationLogger) LogResponse(collaborator, response string) {
	gl.Logf("=== RESPONSE (%s) ===\n%s\n=====================\n\n", collaborator, response)
}

// Close finalizes and closes the log file.
func (gl *GenerationLogger) Close() error {
	gl.Logf("=== Generation Complete: %s ===\n", time.Now().Format(time.RFC3339))
	gl.mu.Lock()
	defer gl.mu.Unlock()
	if gl.file != nil {
		return gl.file.Close()
	}
	return nil
}
