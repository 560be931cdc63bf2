package alcptprep

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store owns all persistent state: tests, questions, users, answers and
// progress. It runs on SQLite by default and on Postgres when a DSN is
// supplied. Queries are written with ? placeholders and rebound per driver.
type Store struct {
	db *sqlx.DB
}

// OpenStore opens the database and creates the schema if needed.
// driver is "sqlite3" or "postgres".
func OpenStore(driver, dsn string) (*Store, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.db.DriverName() == "postgres" {
		serial = "SERIAL PRIMARY KEY"
	}

	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tests (
			id %s,
			test_number TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			total_questions INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS questions (
			id %s,
			test_id INTEGER NOT NULL REFERENCES tests(id),
			question_index INTEGER NOT NULL,
			question_text TEXT NOT NULL,
			correct_answer TEXT NOT NULL,
			other_options TEXT NOT NULL,
			audio_url TEXT NOT NULL DEFAULT '',
			arabic_explanation TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(test_id, question_index)
		)`, serial),
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_answers (
			id %s,
			user_id TEXT NOT NULL REFERENCES users(id),
			question_id INTEGER NOT NULL REFERENCES questions(id),
			answer TEXT NOT NULL,
			is_correct BOOLEAN NOT NULL,
			answered_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, question_id)
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_progress (
			id %s,
			user_id TEXT NOT NULL REFERENCES users(id),
			test_id INTEGER NOT NULL REFERENCES tests(id),
			correct_answers INTEGER NOT NULL DEFAULT 0,
			total_answers INTEGER NOT NULL DEFAULT 0,
			score INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			last_answered_at TIMESTAMP NOT NULL,
			UNIQUE(user_id, test_id)
		)`, serial),
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// questionRow mirrors the questions table; other_options and
// arabic_explanation are stored as JSON text.
type questionRow struct {
	ID            int       `db:"id"`
	TestID        int       `db:"test_id"`
	QuestionIndex int       `db:"question_index"`
	QuestionText  string    `db:"question_text"`
	CorrectAnswer string    `db:"correct_answer"`
	OtherOptions  string    `db:"other_options"`
	AudioURL      string    `db:"audio_url"`
	Explanation   string    `db:"arabic_explanation"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *questionRow) toQuestion() (*Question, error) {
	q := &Question{
		ID:            r.ID,
		TestID:        r.TestID,
		QuestionIndex: r.QuestionIndex,
		QuestionText:  r.QuestionText,
		CorrectAnswer: r.CorrectAnswer,
		AudioURL:      r.AudioURL,
		CreatedAt:     r.CreatedAt,
	}
	if err := json.Unmarshal([]byte(r.OtherOptions), &q.OtherOptions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options for question %d: %w", r.ID, err)
	}
	if r.Explanation != "" {
		var exp ArabicExplanation
		if err := json.Unmarshal([]byte(r.Explanation), &exp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal explanation for question %d: %w", r.ID, err)
		}
		q.Explanation = &exp
	}
	return q, nil
}

// GetAllTests returns every test, ordered by test number.
func (s *Store) GetAllTests(ctx context.Context) ([]Test, error) {
	var tests []Test
	err := s.db.SelectContext(ctx, &tests, "SELECT * FROM tests ORDER BY test_number")
	if err != nil {
		return nil, fmt.Errorf("failed to get tests: %w", err)
	}
	return tests, nil
}

// GetTestByID returns a single test.
func (s *Store) GetTestByID(ctx context.Context, id int) (*Test, error) {
	var test Test
	err := s.db.GetContext(ctx, &test, s.db.Rebind("SELECT * FROM tests WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return &test, nil
}

// GetTestByNumber returns a test by its human-facing number (e.g. "65").
func (s *Store) GetTestByNumber(ctx context.Context, number string) (*Test, error) {
	var test Test
	err := s.db.GetContext(ctx, &test, s.db.Rebind("SELECT * FROM tests WHERE test_number = ?"), number)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test %q: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return &test, nil
}

// CreateTest inserts a test and returns it with its assigned id.
func (s *Store) CreateTest(ctx context.Context, test *Test) error {
	test.CreatedAt = time.Now().UTC()
	if s.db.DriverName() == "postgres" {
		return s.db.QueryRowContext(ctx,
			"INSERT INTO tests (test_number, name, total_questions, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
			test.TestNumber, test.Name, test.TotalQuestions, test.CreatedAt,
		).Scan(&test.ID)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO tests (test_number, name, total_questions, created_at) VALUES (?, ?, ?, ?)",
		test.TestNumber, test.Name, test.TotalQuestions, test.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create test: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get test id: %w", err)
	}
	test.ID = int(id)
	return nil
}

// UpdateTestQuestionCount corrects the stored question count.
func (s *Store) UpdateTestQuestionCount(ctx context.Context, testID, count int) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE tests SET total_questions = ? WHERE id = ?"), count, testID)
	if err != nil {
		return fmt.Errorf("failed to update test question count: %w", err)
	}
	return nil
}

// CreateQuestion inserts a question and returns it with its assigned id.
func (s *Store) CreateQuestion(ctx context.Context, q *Question) error {
	options, err := json.Marshal(q.OtherOptions)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}
	q.CreatedAt = time.Now().UTC()
	if s.db.DriverName() == "postgres" {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO questions (test_id, question_index, question_text, correct_answer, other_options, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			q.TestID, q.QuestionIndex, q.QuestionText, q.CorrectAnswer, string(options), q.CreatedAt,
		).Scan(&q.ID)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (test_id, question_index, question_text, correct_answer, other_options, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.TestID, q.QuestionIndex, q.QuestionText, q.CorrectAnswer, string(options), q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create question: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get question id: %w", err)
	}
	q.ID = int(id)
	return nil
}

// GetQuestionByID returns a single question.
func (s *Store) GetQuestionByID(ctx context.Context, id int) (*Question, error) {
	var row questionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind("SELECT * FROM questions WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return row.toQuestion()
}

// GetQuestionsByTestID returns all questions of a test in form order.
func (s *Store) GetQuestionsByTestID(ctx context.Context, testID int) ([]*Question, error) {
	var rows []questionRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind("SELECT * FROM questions WHERE test_id = ? ORDER BY question_index"), testID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	questions := make([]*Question, 0, len(rows))
	for i := range rows {
		q, err := rows[i].toQuestion()
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, nil
}

// GetRandomQuestion returns one pseudo-random question, optionally scoped
// to a test (testID 0 means any test).
func (s *Store) GetRandomQuestion(ctx context.Context, testID int) (*Question, error) {
	var row questionRow
	var err error
	if testID > 0 {
		err = s.db.GetContext(ctx, &row,
			s.db.Rebind("SELECT * FROM questions WHERE test_id = ? ORDER BY RANDOM() LIMIT 1"), testID)
	} else {
		err = s.db.GetContext(ctx, &row, "SELECT * FROM questions ORDER BY RANDOM() LIMIT 1")
	}
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no questions available: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get random question: %w", err)
	}
	return row.toQuestion()
}

// UpdateQuestionAudio persists the generated audio reference.
// Last writer wins.
func (s *Store) UpdateQuestionAudio(ctx context.Context, questionID int, audioURL string) error {
	_, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE questions SET audio_url = ? WHERE id = ?"), audioURL, questionID)
	if err != nil {
		return fmt.Errorf("failed to update question audio: %w", err)
	}
	return nil
}

// UpdateQuestionExplanation persists the generated explanation.
// Last writer wins.
func (s *Store) UpdateQuestionExplanation(ctx context.Context, questionID int, exp *ArabicExplanation) error {
	data, err := json.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to marshal explanation: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE questions SET arabic_explanation = ? WHERE id = ?"), string(data), questionID)
	if err != nil {
		return fmt.Errorf("failed to update question explanation: %w", err)
	}
	return nil
}

// UpsertUser creates the user or refreshes name/email and last-active time.
func (s *Store) UpsertUser(ctx context.Context, user *User) error {
	now := time.Now().UTC()
	user.LastActiveAt = now
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (id, name, email, created_at, last_active_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, email = excluded.email, last_active_at = excluded.last_active_at`),
		user.ID, user.Name, user.Email, user.CreatedAt, user.LastActiveAt)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// RecordAnswer stores the submitted answer (overwriting any previous answer
// for the same question) and recomputes the user's progress for the test
// from the answers table. Recomputing instead of incrementing keeps a
// resubmission from double counting.
func (s *Store) RecordAnswer(ctx context.Context, ans *UserAnswer, testID int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ans.AnsweredAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO user_answers (user_id, question_id, answer, is_correct, answered_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, question_id) DO UPDATE SET answer = excluded.answer, is_correct = excluded.is_correct, answered_at = excluded.answered_at`),
		ans.UserID, ans.QuestionID, ans.Answer, ans.IsCorrect, ans.AnsweredAt)
	if err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}

	var totals struct {
		Total   int `db:"total"`
		Correct int `db:"correct"`
	}
	err = tx.GetContext(ctx, &totals, tx.Rebind(
		`SELECT COUNT(*) AS total,
		        COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct
		 FROM user_answers
		 WHERE user_id = ? AND question_id IN (SELECT id FROM questions WHERE test_id = ?)`),
		ans.UserID, testID)
	if err != nil {
		return fmt.Errorf("failed to recompute progress: %w", err)
	}

	score := 0
	if totals.Total > 0 {
		score = int(math.Round(float64(totals.Correct) / float64(totals.Total) * 100))
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO user_progress (user_id, test_id, correct_answers, total_answers, score, started_at, last_answered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, test_id) DO UPDATE SET
		   correct_answers = excluded.correct_answers,
		   total_answers = excluded.total_answers,
		   score = excluded.score,
		   last_answered_at = excluded.last_answered_at`),
		ans.UserID, testID, totals.Correct, totals.Total, score, ans.AnsweredAt, ans.AnsweredAt)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit answer: %w", err)
	}
	return nil
}

// GetAnswer returns the user's latest answer to a question, if any.
func (s *Store) GetAnswer(ctx context.Context, userID string, questionID int) (*UserAnswer, error) {
	var ans UserAnswer
	err := s.db.GetContext(ctx, &ans,
		s.db.Rebind("SELECT * FROM user_answers WHERE user_id = ? AND question_id = ?"), userID, questionID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("answer: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}
	return &ans, nil
}

// GetProgressByUser returns all progress records of a user.
func (s *Store) GetProgressByUser(ctx context.Context, userID string) ([]UserProgress, error) {
	var progress []UserProgress
	err := s.db.SelectContext(ctx, &progress,
		s.db.Rebind("SELECT * FROM user_progress WHERE user_id = ? ORDER BY test_id"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user progress: %w", err)
	}
	return progress, nil
}

// GetProgress returns a user's progress for one test.
func (s *Store) GetProgress(ctx context.Context, userID string, testID int) (*UserProgress, error) {
	var progress UserProgress
	err := s.db.GetContext(ctx, &progress,
		s.db.Rebind("SELECT * FROM user_progress WHERE user_id = ? AND test_id = ?"), userID, testID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("progress: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return &progress, nil
}
