package invoker

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/pixfusion/pixfusion/internal/models"
)

// DefaultModel is the default image-generation model.
const DefaultModel = "imagen-3.0-generate-002"

// GeminiInvoker generates images through the Google GenAI API.
type GeminiInvoker struct {
	client *genai.Client
	model  string
}

// GeminiInvoker implements Invoker.
var _ Invoker = (*GeminiInvoker)(nil)

// NewGeminiInvoker creates a GeminiInvoker using ambient credentials
// (GEMINI_API_KEY or Vertex AI application default credentials).
func NewGeminiInvoker(ctx context.Context, model string) (*GeminiInvoker, error) {
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("invoker: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiInvoker{client: client, model: model}, nil
}

// Invoke generates images for the prompt. The call is slow and runs to
// completion or failure; cancellation is bounded by ctx only.
func (g *GeminiInvoker) Invoke(ctx context.Context, prompt string, format models.OutputFormat, ratio models.Ratio) ([]Output, error) {
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: format.ContentType(),
		AspectRatio:    string(ratio),
	}

	resp, errGen := g.client.Models.GenerateImages(ctx, g.model, prompt, cfg)
	if errGen != nil {
		return nil, fmt.Errorf("invoker: genai request failed: %w", errGen)
	}

	outputs := make([]Output, 0, len(resp.GeneratedImages))
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		contentType := img.Image.MIMEType
		if contentType == "" {
			contentType = format.ContentType()
		}
		outputs = append(outputs, Output{Data: img.Image.ImageBytes, ContentType: contentType})
	}
	return outputs, nil
}
