package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"alcptprep"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSpeech struct{}

func (stubSpeech) Synthesize(ctx context.Context, q *alcptprep.Question) (string, error) {
	return fmt.Sprintf("%s/question_%d.mp3", alcptprep.AudioBaseURL, q.ID), nil
}

func (stubSpeech) AudioExists(audioURL string) bool { return audioURL != "" }

type stubExplainer struct{}

func (stubExplainer) Explain(ctx context.Context, q *alcptprep.Question) (*alcptprep.ArabicExplanation, error) {
	return &alcptprep.ArabicExplanation{
		CorrectAnswer: q.CorrectAnswer,
		Analysis: alcptprep.LinguisticAnalysis{
			Keywords:  []alcptprep.KeywordPair{{WordInQuestion: "q", WordInAnswer: "a", Relation: "r"}},
			Structure: "s",
		},
		Rationale: alcptprep.AnswerRationale{PrimaryReason: "p", Evidence: "e", FullMeaning: "m"},
		WrongOptions: alcptprep.WrongOptionAnalysis{
			First:  alcptprep.WrongOption{Option: "1", Reason: "r"},
			Second: alcptprep.WrongOption{Option: "2", Reason: "r"},
			Third:  alcptprep.WrongOption{Option: "3", Reason: "r"},
		},
		GrammarRule: "g",
		StudyTip:    "t",
	}, nil
}

type stubFormatter struct{}

func (stubFormatter) FormatQuestion(ctx context.Context, raw json.RawMessage) (*alcptprep.FormattedQuestion, error) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Text == "" {
		return nil, &alcptprep.ValidationError{Msg: "question data is required"}
	}
	return &alcptprep.FormattedQuestion{
		QuestionText:  in.Text,
		CorrectAnswer: "right",
		OtherOptions:  []string{"wrong-a", "wrong-b", "wrong-c"},
		Explanation:   "because",
	}, nil
}

func (stubFormatter) ParseBulkQuestions(ctx context.Context, bulkText string) ([]alcptprep.FormattedQuestion, error) {
	return []alcptprep.FormattedQuestion{
		{QuestionText: bulkText, CorrectAnswer: "right", OtherOptions: []string{"a", "b", "c"}},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *alcptprep.Store) {
	t.Helper()

	store, err := alcptprep.OpenStore("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cache := alcptprep.NewArtifactCache(store, stubSpeech{}, stubExplainer{})
	processor := alcptprep.NewProcessor(store, cache, alcptprep.ProcessorConfig{TickInterval: time.Hour})
	processor.Start()
	t.Cleanup(processor.Stop)

	srv := &Server{
		store:     store,
		cache:     cache,
		processor: processor,
		answers:   alcptprep.NewAnswerService(store, cache),
		formatter: stubFormatter{},
		sessions:  sessions.NewCookieStore([]byte("test-secret")),
		audioDir:  t.TempDir(),
		dataDir:   t.TempDir(),
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, store
}

func seedServerTest(t *testing.T, store *alcptprep.Store) (*alcptprep.Test, []*alcptprep.Question) {
	t.Helper()
	ctx := context.Background()

	test := &alcptprep.Test{TestNumber: "65", Name: "ALCPT Test 65"}
	require.NoError(t, store.CreateTest(ctx, test))

	var questions []*alcptprep.Question
	for _, index := range []int{1, 67} {
		q := &alcptprep.Question{
			TestID:        test.ID,
			QuestionIndex: index,
			QuestionText:  fmt.Sprintf("question %d", index),
			CorrectAnswer: "right",
			OtherOptions:  []string{"wrong-a", "wrong-b", "wrong-c"},
		}
		require.NoError(t, store.CreateQuestion(ctx, q))
		questions = append(questions, q)
	}
	require.NoError(t, store.UpdateTestQuestionCount(ctx, test.ID, len(questions)))
	return test, questions
}

// login performs /api/login and returns the session cookies.
func login(t *testing.T, ts *httptest.Server) []*http.Cookie {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/login", "application/json",
		strings.NewReader(`{"name": "Ahmed", "email": "ahmed@example.com"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp.Cookies()
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, body string, cookies []*http.Cookie, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListTestsAndQuestions(t *testing.T) {
	ts, store := newTestServer(t)
	test, _ := seedServerTest(t, store)

	var tests []alcptprep.Test
	status := doJSON(t, ts, http.MethodGet, "/api/tests", "", nil, &tests)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, tests, 1)
	assert.Equal(t, "65", tests[0].TestNumber)

	var byNumber alcptprep.Test
	status = doJSON(t, ts, http.MethodGet, "/api/tests/65", "", nil, &byNumber)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, test.ID, byNumber.ID)

	var questions []alcptprep.Question
	status = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tests/%d/questions", test.ID), "", nil, &questions)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, questions, 2)

	status = doJSON(t, ts, http.MethodGet, "/api/tests/9999", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRandomQuestionEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	test, _ := seedServerTest(t, store)

	var q alcptprep.Question
	status := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/question?testId=%d", test.ID), "", nil, &q)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, test.ID, q.TestID)

	status = doJSON(t, ts, http.MethodGet, "/api/question?testId=abc", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetQuestionNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	status := doJSON(t, ts, http.MethodGet, "/api/questions/9999", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGenerateAudioEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	_, questions := seedServerTest(t, store)

	var out map[string]string
	status := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/questions/%d/audio", questions[0].ID), "", nil, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, out["audioUrl"], "question_")

	// Reading questions have no audio.
	status = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/questions/%d/audio", questions[1].ID), "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSubmitRequiresAuth(t *testing.T) {
	ts, store := newTestServer(t)
	_, questions := seedServerTest(t, store)

	status := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/questions/%d/submit", questions[0].ID),
		`{"selectedAnswer": "right"}`, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginAndSubmitFlow(t *testing.T) {
	ts, store := newTestServer(t)
	test, questions := seedServerTest(t, store)
	cookies := login(t, ts)

	var user alcptprep.User
	status := doJSON(t, ts, http.MethodGet, "/api/auth/user", "", cookies, &user)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ahmed", user.Name)

	var feedback alcptprep.AnswerFeedback
	status = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/questions/%d/submit", questions[0].ID),
		`{"selectedAnswer": "right"}`, cookies, &feedback)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, feedback.IsCorrect)
	assert.NotNil(t, feedback.ArabicExplanation)

	var progress alcptprep.UserProgress
	status = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tests/%d/progress", test.ID), "", cookies, &progress)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, progress.TotalAnswers)
	assert.Equal(t, 100, progress.Score)

	var all []alcptprep.UserProgress
	status = doJSON(t, ts, http.MethodGet, "/api/user/progress", "", cookies, &all)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, all, 1)
}

func TestLoginRequiresName(t *testing.T) {
	ts, _ := newTestServer(t)
	status := doJSON(t, ts, http.MethodPost, "/api/login", `{"email": "x@example.com"}`, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPrewarmEnqueuesBatchJob(t *testing.T) {
	ts, store := newTestServer(t)
	test, _ := seedServerTest(t, store)

	var out map[string]string
	status := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/tests/%d/prewarm", test.ID), "", nil, &out)
	require.Equal(t, http.StatusAccepted, status)
	assert.NotEmpty(t, out["jobId"])

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/jobs/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var stats alcptprep.ProcessorStats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return false
		}
		return stats.Pending == 1
	}, 5*time.Second, 5*time.Millisecond)

	status = doJSON(t, ts, http.MethodPost, "/api/tests/9999/prewarm", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFormatQuestionEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var out alcptprep.FormattedQuestion
	status := doJSON(t, ts, http.MethodPost, "/api/format-question",
		`{"text": "Where do you buy bread?"}`, nil, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Where do you buy bread?", out.QuestionText)
	assert.Len(t, out.OtherOptions, 3)

	status = doJSON(t, ts, http.MethodPost, "/api/format-question", `{}`, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = doJSON(t, ts, http.MethodGet, "/api/format-question", "", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
}

func TestParseBulkQuestionsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var out struct {
		Message   string                        `json:"message"`
		Questions []alcptprep.FormattedQuestion `json:"questions"`
	}
	status := doJSON(t, ts, http.MethodPost, "/api/parse-bulk-questions",
		`{"bulkText": "1. Where do you buy bread? a. at a bakery"}`, nil, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, out.Message, "parsed 1 questions")
	require.Len(t, out.Questions, 1)

	status = doJSON(t, ts, http.MethodPost, "/api/parse-bulk-questions", `{"bulkText": ""}`, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCostsEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	test, _ := seedServerTest(t, store)

	var est alcptprep.CostEstimate
	status := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tests/%d/costs", test.ID), "", nil, &est)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, est.ExplanationsNeeded)
	assert.Equal(t, 1, est.AudioNeeded)
}
