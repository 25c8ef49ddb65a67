// Package invoker abstracts the external image-generation model call.
package invoker

import (
	"context"

	"github.com/pixfusion/pixfusion/internal/models"
)

// Output is one binary image produced by a model invocation.
type Output struct {
	Data        []byte // Raw image bytes.
	ContentType string // MIME type of the image.
}

// Invoker turns a prompt into one or more binary image outputs. A single
// invocation failure is terminal for the generation; the engine does not
// retry.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, format models.OutputFormat, ratio models.Ratio) ([]Output, error)
}
