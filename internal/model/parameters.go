package model

import (
	"fmt"
	"strings"
)

// GenerationParameters are the user-facing knobs forwarded to the provider.
type GenerationParameters struct {
	AspectRatio AspectRatio `json:"aspectRatio,omitempty" validate:"omitempty,oneof=1:1 2:3 3:2 16:9 9:16"`
	Quality     Quality     `json:"quality,omitempty" validate:"omitempty,oneof=standard hd"`
	ImageCount  int         `json:"imageCount,omitempty" validate:"omitempty,min=1,max=4"`
	Seed        *int64      `json:"seed,omitempty"`
}

const (
	DefaultImageCount = 1
	MaxImageCount     = 4
)

// WithDefaults fills unset fields.
func (p GenerationParameters) WithDefaults() GenerationParameters {
	if p.AspectRatio == "" {
		p.AspectRatio = AspectSquare
	}
	if p.Quality == "" {
		p.Quality = QualityStandard
	}
	if p.ImageCount <= 0 {
		p.ImageCount = DefaultImageCount
	}
	if p.ImageCount > MaxImageCount {
		p.ImageCount = MaxImageCount
	}
	return p
}

// ProviderOptions renders the provider specific request options.
func (p GenerationParameters) ProviderOptions(provider Provider) map[string]interface{} {
	p = p.WithDefaults()
	opts := map[string]interface{}{
		"aspect_ratio": string(p.AspectRatio),
		"n":            p.ImageCount,
	}
	if p.Seed != nil {
		opts["seed"] = *p.Seed
	}

	switch provider {
	case ProviderDallE3:
		opts["style"] = "vivid"
		opts["quality"] = string(p.Quality)
		opts["size"] = dalleSize(p.AspectRatio)
	case ProviderMidjourney:
		opts["ar_suffix"] = "--ar " + string(p.AspectRatio)
		opts["quality"] = "--q 2"
		opts["stylize"] = "--s 750"
	case ProviderStableDiffusion:
		w, h := sdSize(p.AspectRatio)
		opts["steps"] = 30
		opts["cfg_scale"] = 7.5
		opts["width"] = w
		opts["height"] = h
	case ProviderFlux:
		opts["guidance_scale"] = 3.5
		opts["num_inference_steps"] = 50
	}
	return opts
}

func dalleSize(ar AspectRatio) string {
	switch ar {
	case AspectPortrait, AspectTall:
		return "1024x1792"
	case AspectLandscape, AspectWide:
		return "1792x1024"
	case AspectSquare:
		return "1024x1024"
	}
	return "1024x1024"
}

func sdSize(ar AspectRatio) (int, int) {
	switch ar {
	case AspectPortrait, AspectTall:
		return 832, 1216
	case AspectLandscape, AspectWide:
		return 1216, 832
	case AspectSquare:
		return 1024, 1024
	}
	return 1024, 1024
}

// TruncatePrompt shortens prompt to the provider limit, preferring to cut at a
// comma late in the text, then at a space.
func TruncatePrompt(prompt string, provider Provider) string {
	limit := provider.MaxPromptLength()
	runes := []rune(prompt)
	if len(runes) <= limit {
		return prompt
	}

	truncated := string(runes[:limit])
	if i := strings.LastIndex(truncated, ","); i > 0 && float64(len([]rune(truncated[:i]))) > float64(limit)*0.7 {
		return strings.TrimSpace(truncated[:i])
	}
	if i := strings.LastIndex(truncated, " "); i > 0 && float64(len([]rune(truncated[:i]))) > float64(limit)*0.8 {
		return strings.TrimSpace(truncated[:i])
	}
	return strings.TrimSpace(truncated)
}

// ParseProvider accepts the canonical names plus a few common aliases.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultProvider, nil
	case "dalle3", "dall-e", "dall-e-3", "dalle":
		return ProviderDallE3, nil
	case "midjourney", "mj":
		return ProviderMidjourney, nil
	case "stable-diffusion", "stablediffusion", "sd", "sdxl":
		return ProviderStableDiffusion, nil
	case "flux":
		return ProviderFlux, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrValidation, s)
}
