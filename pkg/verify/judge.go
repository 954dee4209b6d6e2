package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/visor-agent/visor/pkg/agent"
)

// ProviderJudge runs judgments through any agent.Provider, so the fast
// judgment model rides the same transport as the main loop.
type ProviderJudge struct {
	provider agent.Provider
	settings agent.Settings
}

// NewProviderJudge wires a provider and the judge model's settings.
func NewProviderJudge(provider agent.Provider, settings agent.Settings) *ProviderJudge {
	if settings.MaxTokens == 0 {
		settings.MaxTokens = 512
	}
	return &ProviderJudge{provider: provider, settings: settings}
}

// Judge sends the screenshot plus prompt and collects the text reply.
func (j *ProviderJudge) Judge(ctx context.Context, image []byte, mediaType, prompt string) (string, error) {
	messages := []agent.Message{
		{
			Role: agent.RoleUser,
			Parts: []agent.Part{
				{Type: agent.PartImage, Image: &agent.Image{MediaType: mediaType, Data: image}},
				{Type: agent.PartText, Text: prompt},
			},
		},
	}

	ch, err := j.provider.Stream(ctx, messages, nil, j.settings)
	if err != nil {
		return "", fmt.Errorf("judge request: %w", err)
	}

	var sb strings.Builder
	for delta := range ch {
		switch delta.Type {
		case agent.DeltaText:
			sb.WriteString(delta.Text)
		case agent.DeltaError:
			return "", fmt.Errorf("judge stream: %w", delta.Err)
		}
	}
	return sb.String(), nil
}
