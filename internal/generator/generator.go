package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Request describes the question batch to generate.
type Request struct {
	Subject string
	Grade   string
	Term    string
	Count   int
}

// GeneratedQuestion is one multiple-choice question produced by the model.
// Options are the four choice texts; CorrectAnswer is the letter key.
type GeneratedQuestion struct {
	Prompt        string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Difficulty    string   `json:"difficulty"`
}

type generationPayload struct {
	Questions []GeneratedQuestion `json:"questions"`
}

// Client wraps an OpenAI-compatible API for exam question generation.
type Client struct {
	api   *openai.Client
	model string
}

func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Generate asks the model for a batch of multiple-choice questions and
// parses the JSON payload. Malformed items are dropped rather than failing
// the whole batch.
func (c *Client) Generate(ctx context.Context, req Request) ([]GeneratedQuestion, error) {
	if req.Count <= 0 {
		req.Count = 10
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildGenerationPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	return ParseGeneratedQuestions(raw)
}

// ParseGeneratedQuestions decodes the model payload and filters out items
// missing a prompt, a full option set, or a correct answer. An empty result
// is not an error; the caller decides whether an empty batch is acceptable.
func ParseGeneratedQuestions(raw string) ([]GeneratedQuestion, error) {
	var payload generationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("parse generation response: %w (raw: %s)", err, raw)
	}

	out := make([]GeneratedQuestion, 0, len(payload.Questions))
	for _, q := range payload.Questions {
		q.Prompt = strings.TrimSpace(q.Prompt)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		if q.Prompt == "" || q.CorrectAnswer == "" || len(q.Options) < 2 {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func buildGenerationPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("You are an exam author for a school curriculum. ")
	sb.WriteString(fmt.Sprintf("Write %d multiple-choice questions for subject %q, grade %q, term %q.\n\n",
		req.Count, req.Subject, req.Grade, req.Term))
	sb.WriteString("RULES:\n")
	sb.WriteString("- Each question has exactly 4 options.\n")
	sb.WriteString("- correct_answer is the option letter: one of أ, ب, ج, د (or A, B, C, D for non-Arabic subjects).\n")
	sb.WriteString("- Include a one-sentence explanation per question.\n")
	sb.WriteString("- difficulty is one of easy, medium, hard.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"question": "...", "options": ["...","...","...","..."], "correct_answer": "أ", "explanation": "...", "difficulty": "medium"}]}`)
	sb.WriteString("\n")
	return sb.String()
}
