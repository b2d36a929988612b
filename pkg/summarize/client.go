// Package summarize generates short natural-language project summaries for
// enriched permit records using the Anthropic API.
package summarize

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const systemPrompt = "Eres un asistente que crea resúmenes concisos de proyectos de construcción en Costa Rica. Responde en español, en un solo párrafo, sin encabezados."

// Client produces a Spanish one-paragraph summary from a set of record
// fields.
type Client interface {
	Summarize(ctx context.Context, fields map[string]string) (string, error)
}

type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// New returns an Anthropic-backed summarizer.
func New(apiKey, model string, maxTokens int64) Client {
	return &sdkClient{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *sdkClient) Summarize(ctx context.Context, fields map[string]string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(fields))),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "summarize: create message")
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", eris.New("summarize: empty response")
	}
	return text, nil
}

// buildPrompt renders the fields as a deterministic key/value list so
// identical records always produce the same prompt.
func buildPrompt(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Resume este proyecto de construcción:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, fields[k])
	}
	return b.String()
}
