package compare

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopassist/internal/config"
	"shopassist/internal/gateway"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// TextGenerator is a client for a large language model.
type TextGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Close() error
}

// geminiClient is a client for the Google Gemini API.
type geminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiClient creates a new Gemini API client.
func NewGeminiClient(ctx context.Context, cfg *config.Config) (TextGenerator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(cfg.GeminiModel)
	model.SetTemperature(0.2)
	return &geminiClient{client: client, model: model}, nil
}

func (c *geminiClient) GenerateContent(ctx context.Context, prompt string) (string, error) {
	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("generated content is not text")
	}
	return sb.String(), nil
}

func (c *geminiClient) Close() error {
	return c.client.Close()
}

// Gemini compares products with a language model on the client side.
type Gemini struct {
	gen    TextGenerator
	logger *logrus.Logger
}

func NewGemini(gen TextGenerator, logger *logrus.Logger) *Gemini {
	return &Gemini{gen: gen, logger: logger}
}

func (g *Gemini) Compare(ctx context.Context, a, b gateway.Product) (string, error) {
	start := time.Now()
	text, err := g.gen.GenerateContent(ctx, BuildPrompt(a, b))
	if err != nil {
		g.logger.WithError(err).Error("Gemini comparison failed")
		return "", fmt.Errorf("failed to compare products: %w", err)
	}
	g.logger.WithFields(logrus.Fields{
		"a":          a.Barcode,
		"b":          b.Barcode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("Gemini comparison done")
	return strings.TrimSpace(text), nil
}

// BuildPrompt renders the two products as a comparison request.
func BuildPrompt(a, b gateway.Product) string {
	var sb strings.Builder
	sb.WriteString("Compare these two grocery products for a shopper. ")
	sb.WriteString("Cover nutrition, ingredients and value for money, then recommend one. ")
	sb.WriteString("Answer in at most 120 words of plain text.\n\n")
	describe(&sb, "Product A", a)
	sb.WriteString("\n")
	describe(&sb, "Product B", b)
	return sb.String()
}

func describe(sb *strings.Builder, label string, p gateway.Product) {
	fmt.Fprintf(sb, "%s: %s", label, orUnknown(p.Name))
	if p.Brand != "" {
		fmt.Fprintf(sb, " by %s", p.Brand)
	}
	fmt.Fprintf(sb, " (barcode %s)\n", p.Barcode)
	if p.Category != "" {
		fmt.Fprintf(sb, "- Category: %s\n", p.Category)
	}
	if p.NutriScore != "" {
		fmt.Fprintf(sb, "- Nutri-Score: %s\n", strings.ToUpper(p.NutriScore))
	}
	writeNumber(sb, "Energy (kcal/100g)", p.EnergyKcal)
	writeNumber(sb, "Sugar (g/100g)", p.Sugar)
	writeNumber(sb, "Salt (g/100g)", p.Salt)
	writeNumber(sb, "Price", p.Price)
	if p.Ingredients != "" {
		fmt.Fprintf(sb, "- Ingredients: %s\n", p.Ingredients)
	}
}

func writeNumber(sb *strings.Builder, label string, v *float64) {
	if v != nil {
		fmt.Fprintf(sb, "- %s: %.2f\n", label, *v)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown product"
	}
	return s
}
