package alcptprep

import "time"

// ListeningThreshold is the highest question index that carries audio.
// Questions 1-66 of an ALCPT form are listening items, the rest are
// reading/grammar items.
const ListeningThreshold = 66

// QuestionType classifies a question by its position in the test form.
type QuestionType string

const (
	TypeListening QuestionType = "listening"
	TypeReading   QuestionType = "reading"
)

// QuestionTypeForIndex returns the type tag for a 1-based question index.
func QuestionTypeForIndex(index int) QuestionType {
	if index <= ListeningThreshold {
		return TypeListening
	}
	return TypeReading
}

// Test represents one ALCPT practice form.
type Test struct {
	ID             int       `db:"id" json:"id"`
	TestNumber     string    `db:"test_number" json:"testNumber"`
	Name           string    `db:"name" json:"name"`
	TotalQuestions int       `db:"total_questions" json:"totalQuestions"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Question represents a single multiple choice question. AudioURL and
// Explanation are lazily populated caches: absent until first requested,
// then persisted keyed by question identity.
type Question struct {
	ID            int                `json:"id"`
	TestID        int                `json:"testId"`
	QuestionIndex int                `json:"questionIndex"`
	QuestionText  string             `json:"questionText"`
	CorrectAnswer string             `json:"correctAnswer"`
	OtherOptions  []string           `json:"otherOptions"`
	AudioURL      string             `json:"audioUrl,omitempty"`
	Explanation   *ArabicExplanation `json:"arabicExplanation,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Type returns the listening/reading classification for the question.
func (q *Question) Type() QuestionType {
	return QuestionTypeForIndex(q.QuestionIndex)
}

// Options returns all four answer options (correct answer first).
func (q *Question) Options() []string {
	return append([]string{q.CorrectAnswer}, q.OtherOptions...)
}

// User is a minimal identity record; real authentication lives outside.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	LastActiveAt time.Time `db:"last_active_at" json:"lastActiveAt"`
}

// UserProgress aggregates a user's results for one test.
type UserProgress struct {
	ID             int       `db:"id" json:"id"`
	UserID         string    `db:"user_id" json:"userId"`
	TestID         int       `db:"test_id" json:"testId"`
	CorrectAnswers int       `db:"correct_answers" json:"correctAnswers"`
	TotalAnswers   int       `db:"total_answers" json:"totalAnswers"`
	Score          int       `db:"score" json:"score"`
	StartedAt      time.Time `db:"started_at" json:"startedAt"`
	LastAnsweredAt time.Time `db:"last_answered_at" json:"lastAnsweredAt"`
}

// UserAnswer is the latest submission for a (user, question) pair.
// A resubmission overwrites the previous record.
type UserAnswer struct {
	ID         int       `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"userId"`
	QuestionID int       `db:"question_id" json:"questionId"`
	Answer     string    `db:"answer" json:"answer"`
	IsCorrect  bool      `db:"is_correct" json:"isCorrect"`
	AnsweredAt time.Time `db:"answered_at" json:"answeredAt"`
}

// AnswerFeedback is what the submit endpoint returns to the client.
type AnswerFeedback struct {
	IsCorrect         bool               `json:"isCorrect"`
	CorrectAnswer     string             `json:"correctAnswer"`
	ArabicExplanation *ArabicExplanation `json:"arabicExplanation,omitempty"`
	SelectedAnswer    string             `json:"selectedAnswer"`
}

// KeywordPair links a key word in the question to its counterpart in the
// correct answer.
type KeywordPair struct {
	WordInQuestion string `json:"الكلمة_في_السؤال"`
	WordInAnswer   string `json:"الكلمة_في_الإجابة"`
	Relation       string `json:"العلاقة"`
}

// LinguisticAnalysis breaks the question down linguistically.
type LinguisticAnalysis struct {
	Keywords  []KeywordPair `json:"الكلمات_المفتاحية"`
	Structure string        `json:"التركيب_النحوي"`
}

// AnswerRationale explains why the correct answer is right.
type AnswerRationale struct {
	PrimaryReason string `json:"السبب_الرئيسي"`
	Evidence      string `json:"الدليل_من_السؤال"`
	FullMeaning   string `json:"المعنى_الكامل"`
}

// WrongOption explains why one incorrect option is wrong.
type WrongOption struct {
	Option string `json:"الخيار"`
	Reason string `json:"سبب_الخطأ"`
}

// WrongOptionAnalysis covers all three incorrect options.
type WrongOptionAnalysis struct {
	First  WrongOption `json:"الخيار_الأول"`
	Second WrongOption `json:"الخيار_الثاني"`
	Third  WrongOption `json:"الخيار_الثالث"`
}

// ArabicExplanation is the fixed-shape study aid generated per question.
// The JSON keys are Arabic because that is the wire format the client
// renders directly. Every field is mandatory.
type ArabicExplanation struct {
	CorrectAnswer string              `json:"الإجابة_الصحيحة"`
	Analysis      LinguisticAnalysis  `json:"التحليل_اللغوي"`
	Rationale     AnswerRationale     `json:"شرح_الإجابة_الصحيحة"`
	WrongOptions  WrongOptionAnalysis `json:"تحليل_الخيارات_الخاطئة"`
	GrammarRule   string              `json:"القاعدة_اللغوية"`
	StudyTip      string              `json:"نصيحة_للطالب"`
}

// Validate checks that every required field of the explanation is filled.
// A generated object missing any field must not be persisted.
func (e *ArabicExplanation) Validate() error {
	missing := func(field string) error {
		return &ValidationError{Msg: "explanation missing required field: " + field}
	}

	if e.CorrectAnswer == "" {
		return missing("correct answer")
	}
	if len(e.Analysis.Keywords) == 0 {
		return missing("keyword pairs")
	}
	for _, kw := range e.Analysis.Keywords {
		if kw.WordInQuestion == "" || kw.WordInAnswer == "" || kw.Relation == "" {
			return missing("keyword pair entry")
		}
	}
	if e.Analysis.Structure == "" {
		return missing("grammatical structure")
	}
	if e.Rationale.PrimaryReason == "" || e.Rationale.Evidence == "" || e.Rationale.FullMeaning == "" {
		return missing("answer rationale")
	}
	for _, wo := range []WrongOption{e.WrongOptions.First, e.WrongOptions.Second, e.WrongOptions.Third} {
		if wo.Option == "" || wo.Reason == "" {
			return missing("wrong option analysis")
		}
	}
	if e.GrammarRule == "" {
		return missing("grammar rule")
	}
	if e.StudyTip == "" {
		return missing("study tip")
	}
	return nil
}
