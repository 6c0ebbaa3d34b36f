package advisor

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

// GenAI reviews sections with a Gemini model.
type GenAI struct {
	model    string
	generate func(ctx context.Context, prompt string) (string, error)
}

func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	g := &GenAI{model: model}
	g.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return g, nil
}

func (g *GenAI) Review(ctx context.Context, req Request) (Advice, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return Advice{}, err
	}
	text, err := g.generate(ctx, prompt)
	if err != nil {
		return Advice{}, fmt.Errorf("generate review: %w", err)
	}
	return parseAdvice(req.Kind, text)
}

func buildPrompt(req Request) (string, error) {
	lo, hi, ok := req.Kind.Range()
	if !ok {
		return "", fmt.Errorf("unknown review kind %q", req.Kind)
	}
	var b strings.Builder
	b.WriteString("You are an experienced NIH study section reviewer.\n")
	switch req.Kind {
	case KindScore:
		fmt.Fprintf(&b, "Give the section an overall impact score from %d (exceptional) to %d (poor).\n", lo, hi)
	case KindRisk:
		fmt.Fprintf(&b, "Rate the scientific and technical risk from %d (low) to %d (high).\n", lo, hi)
	case KindFeasibility:
		fmt.Fprintf(&b, "Rate the feasibility of the proposed work from %d (low) to %d (high).\n", lo, hi)
	}
	b.WriteString("Answer with a single JSON object and nothing else: {\"score\": <integer>, \"rationale\": \"<two or three sentences>\"}\n\n")
	fmt.Fprintf(&b, "Section: %s\n\n%s\n", req.SectionTitle, req.Content)
	return b.String(), nil
}
