package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	genai "github.com/google/generative-ai-go/genai"
)

const transcribePrompt = "Transcribe all text on this scanned page exactly as printed. " +
	"Preserve line breaks and table rows. Output only the transcribed text, with no commentary. " +
	"If the page is blank, output nothing."

// GeminiRecognizer turns a rasterized page image into text with a Gemini vision model
type GeminiRecognizer struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

type RateLimits struct {
	RPM int // Requests per minute
}

func NewGeminiRecognizer(ctx context.Context, apiKey, model, tier string) (*GeminiRecognizer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	limits := getRateLimits(tier)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiOCR",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer
	burst := limits.RPM / 10
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burst)

	return &GeminiRecognizer{
		client:      client,
		model:       model,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}, nil
}

func getRateLimits(tier string) RateLimits {
	switch tier {
	case "tier1":
		return RateLimits{RPM: 1000}
	case "tier2":
		return RateLimits{RPM: 2000}
	default:
		return RateLimits{RPM: 10}
	}
}

// Recognize transcribes one page image
func (g *GeminiRecognizer) Recognize(ctx context.Context, imagePath string) (string, error) {
	tracer := otel.Tracer("gemini-ocr")
	ctx, span := tracer.Start(ctx, "gemini.recognize_page")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", g.model))

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read page image: %w", err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(imagePath)), ".")
	if format == "jpg" {
		format = "jpeg"
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.GenerativeModel(g.model)
		model.SetTemperature(0)

		resp, err := model.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(transcribePrompt))
		if err != nil {
			span.SetAttributes(attribute.String("gemini.error_message", err.Error()))
			return nil, err
		}
		return responseText(resp), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			span.SetAttributes(attribute.Bool("gemini.circuit_breaker_open", true))
		}
		return "", fmt.Errorf("gemini recognition failed: %w", err)
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("gemini.output_chars", len(text)))
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return strings.TrimSpace(b.String())
}

// Close the client
func (g *GeminiRecognizer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
