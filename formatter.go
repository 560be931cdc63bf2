package alcptprep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// formatterModel handles the lighter formatting work; explanations keep
// the larger model.
const formatterModel = "gemini-2.5-flash"

// FormattedQuestion is a cleaned-up question produced from raw pasted or
// imported content: option prefixes stripped, text normalized, with an
// optional plain-text explanation of the correct answer.
type FormattedQuestion struct {
	QuestionText  string   `json:"question_text"`
	CorrectAnswer string   `json:"correct_answer"`
	OtherOptions  []string `json:"other_options"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Validate checks the formatted question is usable as stored content.
func (f *FormattedQuestion) Validate() error {
	if strings.TrimSpace(f.QuestionText) == "" {
		return &ValidationError{Msg: "formatted question missing question text"}
	}
	if strings.TrimSpace(f.CorrectAnswer) == "" {
		return &ValidationError{Msg: "formatted question missing correct answer"}
	}
	if len(f.OtherOptions) != 3 {
		return &ValidationError{Msg: fmt.Sprintf("formatted question must have 3 other options, got %d", len(f.OtherOptions))}
	}
	for _, opt := range f.OtherOptions {
		if strings.TrimSpace(opt) == "" {
			return &ValidationError{Msg: "formatted question has an empty option"}
		}
	}
	return nil
}

// QuestionFormatter is the formatting collaborator boundary.
type QuestionFormatter interface {
	FormatQuestion(ctx context.Context, raw json.RawMessage) (*FormattedQuestion, error)
	ParseBulkQuestions(ctx context.Context, bulkText string) ([]FormattedQuestion, error)
}

// FormatQuestion cleans one raw question object: strips "a."/"b." style
// prefixes from options, normalizes the text and adds a short explanation.
func (e *Explainer) FormatQuestion(ctx context.Context, raw json.RawMessage) (*FormattedQuestion, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Msg: "question data is required"}
	}
	VerboseLog("Formatting raw question data (%d bytes)", len(raw))

	prompt := buildFormatPrompt(raw)
	if e.logger != nil {
		e.logger.LogRequest("Formatter", prompt)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   formattedQuestionSchema(),
	}
	result, err := e.client.Models.GenerateContent(ctx, formatterModel, genai.Text(prompt), config)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "formatter", Err: err}
	}

	out := result.Text()
	if e.logger != nil {
		e.logger.LogResponse("Formatter", out)
	}
	if out == "" {
		return nil, &CollaboratorError{Collaborator: "formatter", Err: fmt.Errorf("empty response from model")}
	}

	var formatted FormattedQuestion
	if err := json.Unmarshal([]byte(out), &formatted); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("formatted question is not valid JSON: %v", err)}
	}
	if err := formatted.Validate(); err != nil {
		return nil, err
	}
	return &formatted, nil
}

// ParseBulkQuestions extracts every question found in a pasted block of
// text (a scanned test, a copied document) as formatted questions.
func (e *Explainer) ParseBulkQuestions(ctx context.Context, bulkText string) ([]FormattedQuestion, error) {
	if strings.TrimSpace(bulkText) == "" {
		return nil, &ValidationError{Msg: "bulkText is required"}
	}
	VerboseLog("Parsing bulk question text (%d bytes)", len(bulkText))

	prompt := buildBulkParsePrompt(bulkText)
	if e.logger != nil {
		e.logger.LogRequest("Formatter", prompt)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:  genai.TypeArray,
			Items: formattedQuestionSchema(),
		},
	}
	result, err := e.client.Models.GenerateContent(ctx, formatterModel, genai.Text(prompt), config)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "formatter", Err: err}
	}

	out := result.Text()
	if e.logger != nil {
		e.logger.LogResponse("Formatter", out)
	}
	if out == "" {
		return nil, &CollaboratorError{Collaborator: "formatter", Err: fmt.Errorf("empty response from model")}
	}

	var questions []FormattedQuestion
	if err := json.Unmarshal([]byte(out), &questions); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("parsed questions are not valid JSON: %v", err)}
	}
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return nil, err
		}
	}
	VerboseLog("Parsed %d questions from bulk text", len(questions))
	return questions, nil
}

func buildFormatPrompt(raw json.RawMessage) string {
	var sb strings.Builder
	sb.WriteString("You are a question formatting expert for ALCPT (American Language Course Placement Test) questions.\n\n")
	sb.WriteString("Clean and format the question data:\n")
	sb.WriteString("1. Remove answer prefixes like \"a.\", \"b.\", \"c.\", \"d.\" from answer options\n")
	sb.WriteString("2. Ensure question text is clear and properly formatted\n")
	sb.WriteString("3. Ensure the correct answer is properly formatted without prefixes\n")
	sb.WriteString("4. Generate a helpful explanation for the correct answer\n")
	sb.WriteString("5. Maintain the educational quality and authenticity of ALCPT questions\n\n")
	sb.WriteString("Format this ALCPT question data:\n")
	sb.Write(raw)
	return sb.String()
}

func buildBulkParsePrompt(bulkText string) string {
	var sb strings.Builder
	sb.WriteString("You are a question parsing expert for ALCPT (American Language Course Placement Test) questions.\n\n")
	sb.WriteString("Extract every multiple-choice question from the text below. For each question:\n")
	sb.WriteString("1. Identify the question text, the correct answer and the three other options\n")
	sb.WriteString("2. Remove answer prefixes like \"a.\", \"b.\", \"c.\", \"d.\"\n")
	sb.WriteString("3. Skip fragments that are not complete questions\n\n")
	sb.WriteString("TEXT:\n")
	sb.WriteString(bulkText)
	return sb.String()
}

func formattedQuestionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"question_text":  {Type: genai.TypeString},
			"correct_answer": {Type: genai.TypeString},
			"other_options": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"explanation": {Type: genai.TypeString},
		},
		Required: []string{"question_text", "correct_answer", "other_options"},
	}
}
