package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/splitpost/internal/experiment"
)

const defaultModel = openai.GPT4oMini

const systemPrompt = `You write short social media posts. Given a topic, produce
the requested number of distinct post variants. Each variant should take a
different angle or hook. Respond with a JSON array of strings, one per variant,
and nothing else.`

// chatCompleter is the slice of the OpenAI client the generator needs.
// The narrow interface allows mock injection during testing.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIGenerator produces variants with an OpenAI chat model.
type OpenAIGenerator struct {
	client chatCompleter
	model  string
}

// NewOpenAIGenerator creates a generator backed by the real OpenAI client.
func NewOpenAIGenerator(apiKey, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("generate: openai api key is required")
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}, nil
}

// Variants asks the model for req.Count distinct post texts.
func (g *OpenAIGenerator) Variants(ctx context.Context, req Request) ([]experiment.Variant, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, errors.New("generate: topic is required")
	}
	count := req.Count
	if count <= 0 {
		count = 2
	}

	prompt := fmt.Sprintf("Write %d post variants about: %s", count, req.Topic)
	if req.Tone != "" {
		prompt += fmt.Sprintf("\nTone: %s", req.Tone)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.9,
	})
	if err != nil {
		return nil, fmt.Errorf("generate: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("generate: empty completion response")
	}

	texts, err := parseVariantList(resp.Choices[0].Message.Content, count)
	if err != nil {
		return nil, err
	}

	variants := make([]experiment.Variant, len(texts))
	for i, text := range texts {
		variants[i] = experiment.Variant{Text: text, Tags: append([]string(nil), req.Tags...)}
	}
	return variants, nil
}

// parseVariantList extracts the JSON string array from the model output,
// tolerating surrounding prose and markdown fences.
func parseVariantList(content string, want int) ([]string, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("generate: no JSON array in model output")
	}

	var texts []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &texts); err != nil {
		return nil, fmt.Errorf("generate: decode model output: %w", err)
	}

	out := texts[:0]
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	if len(out) == 0 {
		return nil, errors.New("generate: model produced no usable variants")
	}
	if len(out) > want {
		out = out[:want]
	}
	return out, nil
}
