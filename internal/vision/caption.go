package vision

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"zakai/internal/llm"
	"zakai/internal/logger"
)

// Captioner answers questions about an image with a multimodal chat model.
type Captioner struct {
	model llm.Generator
	log   zerolog.Logger
}

// NewCaptioner creates a captioner over the given model.
func NewCaptioner(model llm.Generator) *Captioner {
	return &Captioner{model: model, log: logger.With("vision")}
}

// Describe sends the image alongside the user's question and returns the
// model's answer. The image is passed by URL, which also accepts data URIs
// for inline uploads.
func (c *Captioner) Describe(ctx context.Context, imageURL, text string) (string, error) {
	msg := &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{
				Type:     schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{URL: imageURL},
			},
			{
				Type: schema.ChatMessagePartTypeText,
				Text: text,
			},
		},
	}

	out, err := c.model.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return "", fmt.Errorf("describing image: %w", err)
	}
	c.log.Debug().Int("caption_len", len(out.Content)).Msg("image described")
	return out.Content, nil
}
