package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/Contoso-Inc/eShopOnAzure/internal/domain"
	"github.com/Contoso-Inc/eShopOnAzure/pkg/config"
	"go.uber.org/zap"
)

// ErrUnavailable marks a transient embedding failure. Mutations abort before
// any write when they hit it; retrying the whole request is safe.
var ErrUnavailable = errors.New("embedding service unavailable")

// Embedder turns catalog text into fixed-dimension vectors. Implementations
// must be side-effect free and idempotent: the same input yields the same
// vector for the lifetime of the configured model.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedItem(ctx context.Context, item *domain.CatalogItem) ([]float32, error)
	Enabled() bool
	Dimension() int
}

// New selects a provider from configuration. No base URL means the vector
// subsystem is off and search uses the prefix fallback.
func New(cfg config.Embeddings, logger *zap.Logger) Embedder {
	if cfg.BaseURL == "" {
		return Disabled{}
	}

	return NewClient(cfg, logger)
}

// itemText is the canonical embedding input for an item. Search quality
// depends on update and ranking agreeing on this, so there is exactly one
// place that builds it.
func itemText(item *domain.CatalogItem) string {
	return fmt.Sprintf("%s %s", item.Name, item.Description)
}

// Disabled is the provider used when no embedding endpoint is configured.
type Disabled struct{}

func (Disabled) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (Disabled) EmbedItem(ctx context.Context, item *domain.CatalogItem) ([]float32, error) {
	return nil, ErrUnavailable
}

func (Disabled) Enabled() bool  { return false }
func (Disabled) Dimension() int { return 0 }
