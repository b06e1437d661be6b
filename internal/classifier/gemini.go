package classifier

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/refset/desk-routing/internal/routing"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini classifies with Google's Gemini API using a constrained JSON response.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini classifier.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    classificationSchema(),
			Temperature:       genai.Ptr[float32](0),
		},
	}, nil
}

func (g *Gemini) Classify(ctx context.Context, subject, body string) (routing.Classification, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt(subject, body)), g.config)
	if err != nil {
		return routing.Classification{}, fmt.Errorf("GenAI classify failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return routing.Classification{}, fmt.Errorf("GenAI returned no text")
	}
	return decode([]byte(text))
}

// Name returns the classifier name.
func (g *Gemini) Name() string {
	return fmt.Sprintf("genai:%s", g.model)
}

func classificationSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent_code":              {Type: genai.TypeString, Enum: routing.IntentCodes},
			"confidence":               {Type: genai.TypeNumber, Minimum: genai.Ptr(0.0), Maximum: genai.Ptr(1.0)},
			"objective_request":        {Type: genai.TypeBoolean},
			"requires_multi_desk_hint": {Type: genai.TypeBoolean},
			"priority":                 {Type: genai.TypeString, Enum: []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}},
			"reasoning_short":          {Type: genai.TypeString},
		},
		Required: []string{
			"intent_code", "confidence", "objective_request", "requires_multi_desk_hint", "priority", "reasoning_short",
		},
	}
}
