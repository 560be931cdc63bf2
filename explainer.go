package alcptprep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Explainer generates the Arabic study explanation for a question using
// Gemini structured output. The response schema pins the model to the
// fixed Arabic wire shape; Validate catches anything that slips through.
type Explainer struct {
	client *genai.Client
	model  string
	logger *GenerationLogger
}

// NewExplainer creates a Gemini-backed explainer.
func NewExplainer(ctx context.Context, apiKey string) (*Explainer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Explainer{client: client, model: "gemini-2.5-pro"}, nil
}

// SetLogger attaches a generation logger that records prompts and raw
// responses for later inspection.
func (e *Explainer) SetLogger(logger *GenerationLogger) {
	e.logger = logger
}

// Explain generates and validates an explanation for the question.
func (e *Explainer) Explain(ctx context.Context, q *Question) (*ArabicExplanation, error) {
	VerboseLog("Generating Arabic explanation for question %d", q.ID)

	prompt := buildExplanationPrompt(q)
	if e.logger != nil {
		e.logger.LogRequest("Explainer", prompt)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   explanationSchema(),
	}

	result, err := e.client.Models.GenerateContent(ctx, e.model, genai.Text(prompt), config)
	if err != nil {
		return nil, &CollaboratorError{Collaborator: "explanation", Err: err}
	}

	raw := result.Text()
	if e.logger != nil {
		e.logger.LogResponse("Explainer", raw)
	}
	if raw == "" {
		return nil, &CollaboratorError{Collaborator: "explanation", Err: fmt.Errorf("empty response from model")}
	}

	var exp ArabicExplanation
	if err := json.Unmarshal([]byte(raw), &exp); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("explanation is not valid JSON: %v", err)}
	}
	if err := exp.Validate(); err != nil {
		return nil, err
	}

	VerboseLog("Arabic explanation generated for question %d", q.ID)
	return &exp, nil
}

func buildExplanationPrompt(q *Question) string {
	options, _ := json.Marshal(q.OtherOptions)

	var sb strings.Builder
	sb.WriteString("You are an ALCPT English test explanation system. Generate an explanation in Arabic following the response schema exactly.\n\n")
	sb.WriteString("INPUT:\n")
	sb.WriteString(fmt.Sprintf("- Question: %s\n", q.QuestionText))
	sb.WriteString(fmt.Sprintf("- Correct Answer: %s\n", q.CorrectAnswer))
	sb.WriteString(fmt.Sprintf("- Wrong Options: %s\n", options))
	sb.WriteString(fmt.Sprintf("- Question Type: %s\n\n", q.Type()))
	sb.WriteString("RULES:\n")
	sb.WriteString("1. Write all explanations in clear, simple formal Arabic (الفصحى), not dialect\n")
	sb.WriteString("2. Focus on the direct relationship between question keywords and the answer\n")
	sb.WriteString("3. Every field must be filled - no empty fields\n")
	sb.WriteString("4. Analyze the three wrong options in the order given\n")
	sb.WriteString("5. Keep explanations concise but complete\n")
	return sb.String()
}

// explanationSchema mirrors the ArabicExplanation wire shape.
func explanationSchema() *genai.Schema {
	stringField := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeString}
	}
	wrongOption := func() *genai.Schema {
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"الخيار":    stringField(),
				"سبب_الخطأ": stringField(),
			},
			Required: []string{"الخيار", "سبب_الخطأ"},
		}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"الإجابة_الصحيحة": stringField(),
			"التحليل_اللغوي": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"الكلمات_المفتاحية": {
						Type: genai.TypeArray,
						Items: &genai.Schema{
							Type: genai.TypeObject,
							Properties: map[string]*genai.Schema{
								"الكلمة_في_السؤال":  stringField(),
								"الكلمة_في_الإجابة": stringField(),
								"العلاقة":           stringField(),
							},
							Required: []string{"الكلمة_في_السؤال", "الكلمة_في_الإجابة", "العلاقة"},
						},
					},
					"التركيب_النحوي": stringField(),
				},
				Required: []string{"الكلمات_المفتاحية", "التركيب_النحوي"},
			},
			"شرح_الإجابة_الصحيحة": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"السبب_الرئيسي":  stringField(),
					"الدليل_من_السؤال": stringField(),
					"المعنى_الكامل":  stringField(),
				},
				Required: []string{"السبب_الرئيسي", "الدليل_من_السؤال", "المعنى_الكامل"},
			},
			"تحليل_الخيارات_الخاطئة": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"الخيار_الأول":  wrongOption(),
					"الخيار_الثاني": wrongOption(),
					"الخيار_الثالث": wrongOption(),
				},
				Required: []string{"الخيار_الأول", "الخيار_الثاني", "الخيار_الثالث"},
			},
			"القاعدة_اللغوية": stringField(),
			"نصيحة_للطالب":    stringField(),
		},
		Required: []string{
			"الإجابة_الصحيحة",
			"التحليل_اللغوي",
			"شرح_الإجابة_الصحيحة",
			"تحليل_الخيارات_الخاطئة",
			"القاعدة_اللغوية",
			"نصيحة_للطالب",
		},
	}
}
