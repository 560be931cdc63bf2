package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"alcptprep"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const sessionName = "alcpt-session"

// Server holds the HTTP surface and its dependencies.
type Server struct {
	store     *alcptprep.Store
	cache     *alcptprep.ArtifactCache
	processor *alcptprep.Processor
	answers   *alcptprep.AnswerService
	formatter alcptprep.QuestionFormatter
	sessions  *sessions.CookieStore
	audioDir  string
	dataDir   string
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Generated audio is plain static content.
	mux.Handle("/api/audio/", http.StripPrefix("/api/audio/", http.FileServer(http.Dir(s.audioDir))))

	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/auth/user", s.handleAuthUser)
	mux.HandleFunc("/api/tests", s.handleTests)
	mux.HandleFunc("/api/tests/", s.handleTestSubtree)
	mux.HandleFunc("/api/question", s.handleRandomQuestion)
	mux.HandleFunc("/api/questions/", s.handleQuestionSubtree)
	mux.HandleFunc("/api/load-test-data", s.handleLoadTestData)
	mux.HandleFunc("/api/format-question", s.handleFormatQuestion)
	mux.HandleFunc("/api/parse-bulk-questions", s.handleParseBulkQuestions)
	mux.HandleFunc("/api/user/progress", s.handleUserProgress)
	mux.HandleFunc("/api/jobs/stats", s.handleJobStats)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

// writeError maps the error taxonomy onto HTTP statuses: missing records
// and bad input are client errors, collaborator failures are gateway
// errors, everything else is a plain server error.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *alcptprep.ValidationError
	var collabErr *alcptprep.CollaboratorError

	switch {
	case alcptprep.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Message: err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: err.Error()})
	case errors.As(err, &collabErr):
		log.Printf("Collaborator failure: %v", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Message: "generation service unavailable"})
	default:
		log.Printf("Internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "internal server error"})
	}
}

// currentUserID returns the authenticated caller, if any.
func (s *Server) currentUserID(r *http.Request) (string, bool) {
	session, _ := s.sessions.Get(r, sessionName)
	userID, ok := session.Values["userID"].(string)
	return userID, ok && userID != ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "name is required"})
		return
	}

	session, _ := s.sessions.Get(r, sessionName)
	userID, ok := session.Values["userID"].(string)
	if !ok || userID == "" {
		userID = uuid.New().String()
	}

	user := &alcptprep.User{ID: userID, Name: body.Name, Email: body.Email}
	if err := s.store.UpsertUser(r.Context(), user); err != nil {
		writeError(w, err)
		return
	}

	session.Values["userID"] = userID
	if err := session.Save(r, w); err != nil {
		log.Printf("Session save error: %v", err)
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAuthUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "not authenticated"})
		return
	}
	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	tests, err := s.store.GetAllTests(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tests)
}

// handleTestSubtree serves /api/tests/{identifier} and its sub-resources.
// The identifier is a numeric id or a test number like "65".
func (s *Server) handleTestSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tests/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	identifier := parts[0]

	if len(parts) == 1 {
		s.handleGetTest(w, r, identifier)
		return
	}

	testID, err := strconv.Atoi(identifier)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "questions":
			s.handleTestQuestions(w, r, testID)
			return
		case "progress":
			s.handleTestProgress(w, r, testID)
			return
		case "prewarm":
			s.handlePrewarm(w, r, testID)
			return
		case "costs":
			s.handleCosts(w, r, testID)
			return
		}
	}

	http.NotFound(w, r)
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request, identifier string) {
	var test *alcptprep.Test
	var err error
	if id, convErr := strconv.Atoi(identifier); convErr == nil {
		test, err = s.store.GetTestByID(r.Context(), id)
	} else {
		test, err = s.store.GetTestByNumber(r.Context(), identifier)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, test)
}

func (s *Server) handleTestQuestions(w http.ResponseWriter, r *http.Request, testID int) {
	questions, err := s.store.GetQuestionsByTestID(r.Context(), testID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *Server) handleTestProgress(w http.ResponseWriter, r *http.Request, testID int) {
	userID, ok := s.currentUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "not authenticated"})
		return
	}
	progress, err := s.store.GetProgress(r.Context(), userID, testID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// handlePrewarm defers artifact generation for a whole test to the
// background queue.
func (s *Server) handlePrewarm(w http.ResponseWriter, r *http.Request, testID int) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetTestByID(r.Context(), testID); err != nil {
		writeError(w, err)
		return
	}
	jobID := s.processor.Enqueue(alcptprep.JobBatchProcess, alcptprep.JobTarget{TestID: testID}, alcptprep.PriorityMedium)
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request, testID int) {
	questions, err := s.store.GetQuestionsByTestID(r.Context(), testID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alcptprep.EstimateCosts(questions))
}

func (s *Server) handleRandomQuestion(w http.ResponseWriter, r *http.Request) {
	testID := 0
	if v := r.URL.Query().Get("testId"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "testId must be a number"})
			return
		}
		testID = id
	}
	question, err := s.store.GetRandomQuestion(r.Context(), testID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

// handleQuestionSubtree serves /api/questions/{id} and its sub-resources.
func (s *Server) handleQuestionSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/questions/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	questionID, err := strconv.Atoi(parts[0])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		question, err := s.store.GetQuestionByID(r.Context(), questionID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, question)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "audio":
			s.handleGenerateAudio(w, r, questionID)
			return
		case "submit":
			s.handleSubmitAnswer(w, r, questionID)
			return
		}
	}

	http.NotFound(w, r)
}

func (s *Server) handleGenerateAudio(w http.ResponseWriter, r *http.Request, questionID int) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	audioURL, err := s.cache.EnsureAudio(r.Context(), questionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"audioUrl": audioURL})
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request, questionID int) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.currentUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "not authenticated"})
		return
	}

	var body struct {
		SelectedAnswer string `json:"selectedAnswer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	feedback, err := s.answers.SubmitAnswer(r.Context(), userID, questionID, body.SelectedAnswer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feedback)
}

func (s *Server) handleLoadTestData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	loaded, err := s.store.LoadTestData(r.Context(), s.dataDir)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Test data loaded successfully",
		"loadedFiles": loaded,
	})
}

// handleFormatQuestion cleans one raw question object (stray option
// prefixes, inconsistent text) into the stored question shape.
func (s *Server) handleFormatQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}
	formatted, err := s.formatter.FormatQuestion(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatted)
}

func (s *Server) handleParseBulkQuestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		BulkText string `json:"bulkText"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.BulkText) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "bulkText is required and must be a string"})
		return
	}
	questions, err := s.formatter.ParseBulkQuestions(r.Context(), body.BulkText)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   fmt.Sprintf("Successfully parsed %d questions", len(questions)),
		"questions": questions,
	})
}

func (s *Server) handleUserProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "not authenticated"})
		return
	}
	progress, err := s.store.GetProgressByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.processor.Stats())
}
