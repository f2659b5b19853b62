// Package gemini implements flowgraph.Generator on top of the aigo Gemini provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/leofalp/aigo/providers/ai"
	aigemini "github.com/leofalp/aigo/providers/ai/gemini"

	"github.com/meikuraledutech/flowgraph"
)

var ErrMissingAPIKey = errors.New("Gemini API Key not configured")

// Generator sends llm node requests to Gemini.
type Generator struct {
	provider ai.Provider
	apiKey   string
}

var _ flowgraph.Generator = (*Generator)(nil)

type Option func(*Generator)

// WithBaseURL points the provider at a different endpoint.
func WithBaseURL(url string) Option {
	return func(g *Generator) {
		if url != "" {
			g.provider = g.provider.WithBaseURL(url)
		}
	}
}

// WithHTTPClient sets the HTTP client used for outbound calls.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) {
		g.provider = g.provider.WithHttpClient(c)
	}
}

// WithProvider replaces the underlying provider.
func WithProvider(p ai.Provider) Option {
	return func(g *Generator) {
		g.provider = p
	}
}

// New returns a Generator authenticated with apiKey.
func New(apiKey string, opts ...Option) *Generator {
	g := &Generator{
		provider: aigemini.New().WithAPIKey(apiKey),
		apiKey:   apiKey,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one request. Images must be data URIs of a supported type.
func (g *Generator) Generate(ctx context.Context, req flowgraph.GenerateRequest) (*flowgraph.GenerateResult, error) {
	if g.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	chat, err := BuildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := g.provider.SendMessage(ctx, chat)
	if err != nil {
		return nil, err
	}
	return toResult(resp), nil
}

// BuildRequest converts a node request into a provider chat request.
func BuildRequest(req flowgraph.GenerateRequest) (ai.ChatRequest, error) {
	model := req.Model
	if model == "" {
		model = flowgraph.DefaultGenerateModel
	}

	msg := ai.Message{Role: ai.RoleUser, Content: req.UserMessage}
	if len(req.Images) > 0 {
		msg.ContentParts = []ai.ContentPart{ai.NewTextPart(req.UserMessage)}
		for _, img := range req.Images {
			mime, data, err := flowgraph.ParseDataURI(img)
			if err != nil {
				return ai.ChatRequest{}, err
			}
			if !slices.Contains(flowgraph.SupportedImageTypes, mime) {
				return ai.ChatRequest{}, fmt.Errorf(
					"Unsupported image format: %s. Supported formats are: PNG, JPEG, WEBP, HEIC, HEIF.", mime)
			}
			msg.ContentParts = append(msg.ContentParts, ai.NewImagePart(mime, data))
		}
	}

	return ai.ChatRequest{
		Model:        model,
		SystemPrompt: req.SystemPrompt,
		Messages:     []ai.Message{msg},
	}, nil
}

func toResult(resp *ai.ChatResponse) *flowgraph.GenerateResult {
	res := &flowgraph.GenerateResult{Text: resp.Content}
	if len(resp.Images) > 0 {
		img := resp.Images[0]
		res.Image = "data:" + img.MimeType + ";base64," + img.Data
	}
	switch {
	case res.Text != "" && res.Image != "":
		res.OutputType = flowgraph.OutputBoth
	case res.Image != "":
		res.OutputType = flowgraph.OutputImage
	default:
		res.OutputType = flowgraph.OutputText
	}
	return res
}
