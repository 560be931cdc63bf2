package alcptprep

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedTest inserts a test with n questions and returns it. Question i gets
// index i, correct answer "correct-i" and three wrong options.
func seedTest(t *testing.T, store *Store, number string, n int) (*Test, []*Question) {
	t.Helper()
	ctx := context.Background()

	test := &Test{TestNumber: number, Name: "ALCPT Test " + number}
	require.NoError(t, store.CreateTest(ctx, test))

	questions := make([]*Question, 0, n)
	for i := 1; i <= n; i++ {
		q := &Question{
			TestID:        test.ID,
			QuestionIndex: i,
			QuestionText:  fmt.Sprintf("question %d", i),
			CorrectAnswer: fmt.Sprintf("correct-%d", i),
			OtherOptions:  []string{"wrong-a", "wrong-b", "wrong-c"},
		}
		require.NoError(t, store.CreateQuestion(ctx, q))
		questions = append(questions, q)
	}
	require.NoError(t, store.UpdateTestQuestionCount(ctx, test.ID, n))
	return test, questions
}

func seedUser(t *testing.T, store *Store, id string) *User {
	t.Helper()
	user := &User{ID: id, Name: "Student " + id}
	require.NoError(t, store.UpsertUser(context.Background(), user))
	return user
}

func TestStoreTests(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedTest(t, store, "65", 3)
	seedTest(t, store, "66", 2)

	tests, err := store.GetAllTests(ctx)
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "65", tests[0].TestNumber)
	assert.Equal(t, 3, tests[0].TotalQuestions)

	byNumber, err := store.GetTestByNumber(ctx, "66")
	require.NoError(t, err)
	byID, err := store.GetTestByID(ctx, byNumber.ID)
	require.NoError(t, err)
	assert.Equal(t, byNumber.ID, byID.ID)

	_, err = store.GetTestByID(ctx, 9999)
	assert.True(t, IsNotFound(err))
	_, err = store.GetTestByNumber(ctx, "no-such")
	assert.True(t, IsNotFound(err))
}

func TestStoreQuestions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	test, seeded := seedTest(t, store, "65", 3)

	q, err := store.GetQuestionByID(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "question 1", q.QuestionText)
	assert.Equal(t, []string{"wrong-a", "wrong-b", "wrong-c"}, q.OtherOptions)
	assert.Empty(t, q.AudioURL)
	assert.Nil(t, q.Explanation)

	questions, err := store.GetQuestionsByTestID(ctx, test.ID)
	require.NoError(t, err)
	require.Len(t, questions, 3)
	assert.Equal(t, 1, questions[0].QuestionIndex)
	assert.Equal(t, 3, questions[2].QuestionIndex)

	_, err = store.GetQuestionByID(ctx, 9999)
	assert.True(t, IsNotFound(err))
}

func TestStoreRandomQuestionScoping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	testA, _ := seedTest(t, store, "65", 5)
	seedTest(t, store, "66", 5)

	for i := 0; i < 10; i++ {
		q, err := store.GetRandomQuestion(ctx, testA.ID)
		require.NoError(t, err)
		assert.Equal(t, testA.ID, q.TestID)
	}

	q, err := store.GetRandomQuestion(ctx, 0)
	require.NoError(t, err)
	assert.NotZero(t, q.ID)
}

func TestStoreRandomQuestionEmpty(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRandomQuestion(context.Background(), 0)
	assert.True(t, IsNotFound(err))
}

func TestStoreArtifactUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, seeded := seedTest(t, store, "65", 1)
	id := seeded[0].ID

	require.NoError(t, store.UpdateQuestionAudio(ctx, id, "/api/audio/question_1.mp3"))
	require.NoError(t, store.UpdateQuestionExplanation(ctx, id, validExplanation()))

	q, err := store.GetQuestionByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "/api/audio/question_1.mp3", q.AudioURL)
	require.NotNil(t, q.Explanation)
	assert.Equal(t, "bread", q.Explanation.CorrectAnswer)
	assert.Len(t, q.Explanation.Analysis.Keywords, 1)
}

func TestStoreUpsertUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedUser(t, store, "u1")
	first, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, store.UpsertUser(ctx, &User{ID: "u1", Name: "Renamed", Email: "new@example.com"}))
	updated, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, first.CreatedAt.Unix(), updated.CreatedAt.Unix())

	_, err = store.GetUser(ctx, "nobody")
	assert.True(t, IsNotFound(err))
}

func TestStoreRecordAnswerRecomputesProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	test, questions := seedTest(t, store, "65", 3)
	seedUser(t, store, "u1")

	record := func(questionID int, correct bool) {
		require.NoError(t, store.RecordAnswer(ctx, &UserAnswer{
			UserID:     "u1",
			QuestionID: questionID,
			Answer:     "whatever",
			IsCorrect:  correct,
		}, test.ID))
	}

	record(questions[0].ID, true)
	record(questions[1].ID, false)

	progress, err := store.GetProgress(ctx, "u1", test.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalAnswers)
	assert.Equal(t, 1, progress.CorrectAnswers)
	assert.Equal(t, 50, progress.Score)

	// Resubmitting the same question overwrites instead of double counting.
	record(questions[1].ID, true)

	progress, err = store.GetProgress(ctx, "u1", test.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalAnswers)
	assert.Equal(t, 2, progress.CorrectAnswers)
	assert.Equal(t, 100, progress.Score)

	ans, err := store.GetAnswer(ctx, "u1", questions[1].ID)
	require.NoError(t, err)
	assert.True(t, ans.IsCorrect)
}

func TestStoreProgressByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	testA, questionsA := seedTest(t, store, "65", 2)
	testB, questionsB := seedTest(t, store, "66", 2)
	seedUser(t, store, "u1")

	require.NoError(t, store.RecordAnswer(ctx, &UserAnswer{UserID: "u1", QuestionID: questionsA[0].ID, Answer: "x", IsCorrect: true}, testA.ID))
	require.NoError(t, store.RecordAnswer(ctx, &UserAnswer{UserID: "u1", QuestionID: questionsB[0].ID, Answer: "x", IsCorrect: false}, testB.ID))

	all, err := store.GetProgressByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = store.GetProgress(ctx, "u1", 9999)
	assert.True(t, IsNotFound(err))
}
