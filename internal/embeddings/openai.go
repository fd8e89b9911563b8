package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/config"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/mylogger"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client talks to an OpenAI-compatible /embeddings endpoint. A circuit
// breaker sits in front of the HTTP call so a dead endpoint fails fast
// instead of stalling every mutation on the full client timeout.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker
	tracer    trace.Tracer
	logger    *zap.Logger
}

func NewClient(cfg config.Embeddings, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		http:      &http.Client{Timeout: 60 * time.Second},
		breaker:   utils.NewBreaker("embeddings"),
		tracer:    otel.Tracer("catalog/embeddings"),
		logger:    logger,
	}
}

func (c *Client) Enabled() bool  { return true }
func (c *Client) Dimension() int { return c.dimension }

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text)
}

func (c *Client) EmbedItem(ctx context.Context, item *domain.CatalogItem) ([]float32, error) {
	return c.embed(ctx, itemText(item))
}

func (c *Client) embed(ctx context.Context, input string) ([]float32, error) {
	ctx, span := c.tracer.Start(ctx, "Embeddings.embed")
	defer span.End()

	span.SetAttributes(
		attribute.String("embeddings.model", c.model),
		attribute.Int("embeddings.input_len", len(input)),
	)

	vector, err := utils.ExecuteWithBreaker(c.breaker, func() ([]float32, error) {
		return c.request(ctx, input)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(
			ctx,
			c.logger,
			"embedding request failed",
			zap.Error(err),
		)

		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return vector, nil
}

func (c *Client) request(ctx context.Context, input string) ([]float32, error) {
	reqBody := map[string]any{
		"model": c.model,
		"input": input,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings http %d: %s", resp.StatusCode, string(data))
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embeddings response contained no vectors")
	}

	vector := out.Data[0].Embedding
	if c.dimension > 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("embeddings dimension mismatch: got %d, want %d", len(vector), c.dimension)
	}

	return vector, nil
}
