package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/model"
)

type stubPrompter struct {
	result     *client.PromptResult
	err        error
	calls      int
	configured bool
}

func (s *stubPrompter) GeneratePrompt(ctx context.Context, req client.PromptRequest) (*client.PromptResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	return &res, nil
}

func (s *stubPrompter) IsConfigured() bool { return s.configured }

func TestPromptService_FallsBackOnProviderError(t *testing.T) {
	primary := &stubPrompter{err: fmt.Errorf("%w: 503", model.ErrProvider), configured: true}
	secondary := &stubPrompter{result: &client.PromptResult{EnhancedPrompt: "from groq"}, configured: true}
	svc := NewPromptService(logger.Nop(), primary, secondary)

	res, err := svc.GeneratePrompt(context.Background(), client.PromptRequest{Text: "x", Provider: model.ProviderFlux})
	if err != nil {
		t.Fatal(err)
	}
	if res.EnhancedPrompt != "from groq" || primary.calls != 1 || secondary.calls != 1 {
		t.Errorf("unexpected result %q (calls %d/%d)", res.EnhancedPrompt, primary.calls, secondary.calls)
	}
}

func TestPromptService_ValidationIsFinal(t *testing.T) {
	primary := &stubPrompter{err: fmt.Errorf("%w: text too short", model.ErrValidation), configured: true}
	secondary := &stubPrompter{result: &client.PromptResult{EnhancedPrompt: "unused"}, configured: true}
	svc := NewPromptService(logger.Nop(), primary, secondary)

	_, err := svc.GeneratePrompt(context.Background(), client.PromptRequest{Text: "x"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if secondary.calls != 0 {
		t.Error("rejected input must not go to the next generator")
	}
}

func TestPromptService_SkipsUnconfigured(t *testing.T) {
	unconfigured := &stubPrompter{result: &client.PromptResult{EnhancedPrompt: "unused"}}
	svc := NewPromptService(logger.Nop(), unconfigured)

	res, err := svc.GeneratePrompt(context.Background(), client.PromptRequest{
		Text:     "A dragon sleeps on a hoard of gold.",
		Provider: model.ProviderStableDiffusion,
		Style:    model.StyleFantasy,
	})
	if err != nil {
		t.Fatal(err)
	}
	if unconfigured.calls != 0 {
		t.Error("unconfigured generator was called")
	}
	if !strings.Contains(res.EnhancedPrompt, "dragon") || !strings.Contains(res.EnhancedPrompt, "fantasy art") {
		t.Errorf("unexpected template prompt %q", res.EnhancedPrompt)
	}
	if res.NegativePrompt == "" {
		t.Error("expected stable diffusion default negative prompt")
	}
}

func TestPromptService_TruncatesToProviderLimit(t *testing.T) {
	long := strings.Repeat("misty forest, ", 100)
	svc := NewPromptService(logger.Nop(), &stubPrompter{result: &client.PromptResult{EnhancedPrompt: long}, configured: true})

	res, err := svc.GeneratePrompt(context.Background(), client.PromptRequest{Text: "x", Provider: model.ProviderStableDiffusion})
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(res.EnhancedPrompt)); n > model.ProviderStableDiffusion.MaxPromptLength() {
		t.Errorf("prompt has %d runes, limit is %d", n, model.ProviderStableDiffusion.MaxPromptLength())
	}
}

func TestTemplatePrompt_LongText(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	res := TemplatePrompt(client.PromptRequest{Text: text, Provider: model.ProviderDallE3})

	if !strings.HasPrefix(res.EnhancedPrompt, "Book illustration: word") {
		t.Errorf("unexpected prompt start %q", res.EnhancedPrompt[:40])
	}
	if !strings.HasSuffix(res.EnhancedPrompt, "professional quality") {
		t.Errorf("expected dalle suffix, got %q", res.EnhancedPrompt)
	}
	if res.NegativePrompt != "" {
		t.Errorf("dalle3 takes no negative prompt, got %q", res.NegativePrompt)
	}
}
