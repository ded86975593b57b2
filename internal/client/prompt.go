package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/config"
	"github.com/bookvision/visualization/internal/model"
)

// PromptRequest is the input of a prompt generation call.
type PromptRequest struct {
	BookID     string
	PageID     *string
	ChapterID  *string
	Text       string
	Provider   model.Provider
	Style      model.Style
	Parameters model.GenerationParameters
}

// PromptResult is an image prompt ready for the provider.
type PromptResult struct {
	EnhancedPrompt string
	NegativePrompt string
	Style          model.Style
}

// PromptGenClient calls the prompt generation service.
type PromptGenClient struct {
	api apiClient
}

type generatePromptsRequest struct {
	BookID      string                 `json:"book_id"`
	PageID      *string                `json:"page_id,omitempty"`
	ChapterID   *string                `json:"chapter_id,omitempty"`
	PageContent string                 `json:"page_content"`
	TargetModel string                 `json:"target_model"`
	Style       string                 `json:"style,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type generatePromptsResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Prompts []struct {
			Prompt         string `json:"prompt"`
			NegativePrompt string `json:"negative_prompt"`
		} `json:"prompts"`
		TargetModel string `json:"target_model"`
		Style       string `json:"style"`
	} `json:"data"`
}

// NewPromptGenClient creates a new prompt generation client
func NewPromptGenClient(cfg *config.PromptGenConfig, log zerolog.Logger) *PromptGenClient {
	return &PromptGenClient{
		api: newAPIClient("promptgen", strings.TrimRight(cfg.BaseURL, "/"), "", cfg.Timeout, log),
	}
}

// GeneratePrompt asks the service for the best prompt for a page of text.
// Rejected input maps to model.ErrValidation, anything else to model.ErrProvider.
func (c *PromptGenClient) GeneratePrompt(ctx context.Context, req PromptRequest) (*PromptResult, error) {
	body := generatePromptsRequest{
		BookID:      req.BookID,
		PageID:      req.PageID,
		ChapterID:   req.ChapterID,
		PageContent: req.Text,
		TargetModel: string(req.Provider),
		Style:       string(req.Style),
		Parameters:  req.Parameters.ProviderOptions(req.Provider),
	}

	var resp generatePromptsResponse
	if err := c.api.post(ctx, "/api/v1/visualization/generate-prompts", body, &resp); err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.IsClientError() {
			return nil, fmt.Errorf("%w: %v", model.ErrValidation, apiErr)
		}
		return nil, fmt.Errorf("%w: prompt service unavailable: %v", model.ErrProvider, err)
	}

	if len(resp.Data.Prompts) == 0 || strings.TrimSpace(resp.Data.Prompts[0].Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt service returned no prompt", model.ErrProvider)
	}

	first := resp.Data.Prompts[0]
	style := req.Style
	if resp.Data.Style != "" {
		style = model.Style(resp.Data.Style)
	}
	return &PromptResult{
		EnhancedPrompt: first.Prompt,
		NegativePrompt: first.NegativePrompt,
		Style:          style,
	}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *PromptGenClient) IsConfigured() bool {
	return c.api.baseURL != ""
}

// GroqClient writes image prompts with a Groq chat completion model.
type GroqClient struct {
	api   apiClient
	model string
}

// ChatMessage represents a message in the chat completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest represents the request body for chat completion
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatCompletionResponse represents the response from chat completion
type ChatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewGroqClient creates a new Groq API client
func NewGroqClient(cfg *config.GroqConfig, log zerolog.Logger) *GroqClient {
	return &GroqClient{
		api:   newAPIClient("groq", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, 60*time.Second, log),
		model: cfg.Model,
	}
}

// ChatCompletion sends a chat completion request to Groq
func (c *GroqClient) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
		MaxTokens:   512,
	}

	var chatResp ChatCompletionResponse
	if err := c.api.post(ctx, "/chat/completions", reqBody, &chatResp); err != nil {
		return "", err
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// GeneratePrompt turns page text into a single image prompt.
func (c *GroqClient) GeneratePrompt(ctx context.Context, req PromptRequest) (*PromptResult, error) {
	content, err := c.ChatCompletion(ctx, groqSystemPrompt(req.Provider), groqUserPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("%w: groq: %v", model.ErrProvider, err)
	}

	prompt := strings.Trim(strings.TrimSpace(content), "\"")
	if prompt == "" {
		return nil, fmt.Errorf("%w: groq returned an empty prompt", model.ErrProvider)
	}
	return &PromptResult{EnhancedPrompt: prompt, Style: req.Style}, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *GroqClient) IsConfigured() bool {
	return c.api.apiKey != ""
}

func groqSystemPrompt(provider model.Provider) string {
	return fmt.Sprintf(`You write prompts for the %s image model.
Describe one scene from the passage: characters, setting, lighting and mood.
Use comma separated visual phrases, no dialogue, no names of real artists.
Stay under %d characters. Reply with the prompt only.`, provider, provider.MaxPromptLength())
}

func groqUserPrompt(req PromptRequest) string {
	var sb strings.Builder
	if req.Style != "" {
		fmt.Fprintf(&sb, "Style: %s\n", req.Style)
	}
	if ar := req.Parameters.AspectRatio; ar != "" {
		fmt.Fprintf(&sb, "Aspect ratio: %s\n", ar)
	}
	sb.WriteString("Passage:\n")
	sb.WriteString(req.Text)
	return sb.String()
}
