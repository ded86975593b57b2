package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/model"
)

// PromptService tries each configured prompt generator in turn and falls back
// to a local template. Rejected input is not retried on the next generator.
type PromptService struct {
	generators []PromptGenerator
	log        zerolog.Logger
}

// NewPromptService keeps the generators that are configured, in order.
func NewPromptService(log zerolog.Logger, generators ...PromptGenerator) *PromptService {
	s := &PromptService{log: log.With().Str("component", "prompt").Logger()}
	for _, g := range generators {
		if g != nil && isConfigured(g) {
			s.generators = append(s.generators, g)
		}
	}
	return s
}

// GeneratePrompt returns a prompt that fits the provider's limit.
func (s *PromptService) GeneratePrompt(ctx context.Context, req client.PromptRequest) (*client.PromptResult, error) {
	for i, g := range s.generators {
		res, err := g.GeneratePrompt(ctx, req)
		if err == nil {
			res.EnhancedPrompt = model.TruncatePrompt(res.EnhancedPrompt, req.Provider)
			return res, nil
		}
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("prompt generation interrupted: %w", ctx.Err())
		}
		s.log.Warn().Err(err).Int("generator", i).Str("book_id", req.BookID).Msg("prompt generator failed, falling back")
	}
	return TemplatePrompt(req), nil
}

type providerTemplate struct {
	suffix   string
	negative string
}

var providerTemplates = map[model.Provider]providerTemplate{
	model.ProviderDallE3: {
		suffix: ", highly detailed, professional quality",
	},
	model.ProviderMidjourney: {
		suffix:   " --q 2 --s 750",
		negative: "blurry, low quality, distorted",
	},
	model.ProviderStableDiffusion: {
		suffix:   ", masterpiece, best quality, highly detailed",
		negative: "lowres, bad anatomy, bad hands, text, error, missing fingers",
	},
	model.ProviderFlux: {
		suffix:   ", ultra high quality, photorealistic",
		negative: "blurry, low resolution, artifacts",
	},
}

var styleDescriptions = map[model.Style]string{
	model.StyleRealistic:   "realistic illustration, natural lighting",
	model.StyleFantasy:     "fantasy art, epic, magical atmosphere",
	model.StyleManga:       "manga style, black and white ink, screentone",
	model.StyleAnime:       "anime style, vibrant colors, cel shading",
	model.StyleComic:       "comic book art, bold lines, halftone",
	model.StylePainterly:   "painterly, visible brush strokes",
	model.StyleSketch:      "pencil sketch, hatching, monochrome",
	model.StyleCinematic:   "cinematic still, dramatic lighting, shallow depth of field",
	model.StyleWatercolor:  "watercolor painting, soft washes",
	model.StyleOilPainting: "oil painting, rich texture, chiaroscuro",
}

// templateExcerpt bounds how much page text goes into a template prompt.
const templateExcerpt = 300

// TemplatePrompt builds a prompt without any external service.
func TemplatePrompt(req client.PromptRequest) *client.PromptResult {
	provider := req.Provider
	if !provider.Valid() {
		provider = model.DefaultProvider
	}
	tpl := providerTemplates[provider]

	scene := strings.Join(strings.Fields(req.Text), " ")
	if utf8.RuneCountInString(scene) > templateExcerpt {
		scene = string([]rune(scene)[:templateExcerpt])
		if i := strings.LastIndex(scene, " "); i > 0 {
			scene = scene[:i]
		}
	}

	var sb strings.Builder
	sb.WriteString("Book illustration: ")
	sb.WriteString(scene)
	if desc, ok := styleDescriptions[req.Style]; ok {
		sb.WriteString(", ")
		sb.WriteString(desc)
	}
	sb.WriteString(tpl.suffix)

	return &client.PromptResult{
		EnhancedPrompt: model.TruncatePrompt(sb.String(), provider),
		NegativePrompt: tpl.negative,
		Style:          req.Style,
	}
}
