package collaborator

import (
	"context"
	"time"

	"github.com/shopkeeper/backend/internal/circuitbreaker"
)

// HTTPCart adds items through the storefront cart API.
type HTTPCart struct {
	client jsonClient
}

func NewHTTPCart(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPCart {
	return &HTTPCart{client: newJSONClient("cart", baseURL, timeout, breaker)}
}

func (c *HTTPCart) AddItem(ctx context.Context, item CartItem) (*CartReceipt, error) {
	var out CartReceipt
	if err := c.client.post(ctx, "/cart/items", item, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HTTPImageGenerator requests virtual try-on previews.
type HTTPImageGenerator struct {
	client jsonClient
}

func NewHTTPImageGenerator(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPImageGenerator {
	return &HTTPImageGenerator{client: newJSONClient("image", baseURL, timeout, breaker)}
}

func (g *HTTPImageGenerator) Generate(ctx context.Context, identity string, productID int, productType string) (*Preview, error) {
	in := struct {
		Identity    string `json:"identity"`
		ProductID   int    `json:"product_id"`
		ProductType string `json:"product_type"`
	}{identity, productID, productType}

	var out Preview
	if err := g.client.post(ctx, "/tryon", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HTTPOutfitBuilder asks the stylist service for a coordinated outfit.
type HTTPOutfitBuilder struct {
	client jsonClient
}

func NewHTTPOutfitBuilder(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPOutfitBuilder {
	return &HTTPOutfitBuilder{client: newJSONClient("outfit", baseURL, timeout, breaker)}
}

func (b *HTTPOutfitBuilder) Build(ctx context.Context, req OutfitRequest) (*Outfit, error) {
	var out Outfit
	if err := b.client.post(ctx, "/outfits", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
