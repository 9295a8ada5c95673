package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/policyqa/internal/core"
	"github.com/markdave123-py/policyqa/internal/models"
)

type GeminiLLM struct {
	client    *genai.Client
	modelName string
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, modelName: modelName}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Complete sends system messages as the system instruction, earlier turns
// as chat history and the final user message as the prompt.
func (g *GeminiLLM) Complete(ctx context.Context, messages []models.ChatMessage, opts core.CompletionOptions) (*core.Completion, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(opts.Temperature)
	if opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	system, history, prompt := splitChat(messages)
	if prompt == "" {
		return nil, fmt.Errorf("gemini generate: %w", errors.Join(core.ErrInvalidInput, errors.New("last message must be a user message")))
	}
	if len(system) > 0 {
		m.SystemInstruction = &genai.Content{Parts: system}
	}

	cs := m.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", classifyGoogle(err))
	}

	out := &core.Completion{}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out.Text = b.String()
	return out, nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)

// splitChat separates system instructions, chat history and the final user
// prompt. History always opens with a user turn, as Gemini requires.
func splitChat(messages []models.ChatMessage) (system []genai.Part, history []*genai.Content, prompt string) {
	for i, msg := range messages {
		switch {
		case msg.Role == models.RoleSystem:
			system = append(system, genai.Text(msg.Content))
		case i == len(messages)-1 && msg.Role == models.RoleUser:
			prompt = msg.Content
		case msg.Role == models.RoleAssistant:
			if len(history) == 0 {
				continue
			}
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}
	return system, history, prompt
}
