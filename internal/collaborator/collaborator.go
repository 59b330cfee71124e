// Package collaborator holds the store-side services a chat turn depends on:
// catalog search, shopper profiles, cart, try-on previews and outfit curation.
// Each is reached through a narrow interface so the chat pipeline can be
// exercised with in-memory fakes.
package collaborator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a collaborator that could not be reached or answered
// with a server error. Search and profile callers degrade on it.
var ErrUnavailable = errors.New("collaborator unavailable")

// RejectedError is a 4xx answer: the collaborator understood the request and
// refused it.
type RejectedError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected request (%d): %s", e.Service, e.StatusCode, e.Message)
}

// Product is one catalog item as the search service returns it.
type Product struct {
	ID              int      `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Price           float64  `json:"price"`
	Category        string   `json:"category"`
	Subcategory     string   `json:"subcategory,omitempty"`
	Gender          string   `json:"gender,omitempty"`
	Colors          []string `json:"colors"`
	Sizes           []string `json:"sizes"`
	Tags            []string `json:"tags"`
	Occasions       []string `json:"occasions"`
	Seasons         []string `json:"seasons"`
	Rating          float64  `json:"rating"`
	Reviews         int      `json:"reviews"`
	Stock           int      `json:"stock"`
	SimilarityScore float64  `json:"similarity_score"`
	MatchReasons    []string `json:"match_reasons"`
}

// Preferences personalise search ranking.
type Preferences struct {
	FavoriteColors []string `json:"favorite_colors,omitempty"`
	Budget         string   `json:"budget,omitempty"` // low, medium, high
}

type Searcher interface {
	Search(ctx context.Context, query string, prefs Preferences, topK int) ([]Product, error)
}

type Order struct {
	ID       string    `json:"id"`
	Items    []string  `json:"items"`
	Total    float64   `json:"total"`
	PlacedAt time.Time `json:"placed_at"`
}

type Profile struct {
	Identity       string   `json:"identity"`
	Name           string   `json:"name,omitempty"`
	FavoriteColors []string `json:"favorite_colors,omitempty"`
	Budget         string   `json:"budget,omitempty"`
	Sizes          []string `json:"sizes,omitempty"`
	// Orders are newest first.
	Orders []Order `json:"orders,omitempty"`
}

func (p *Profile) Preferences() Preferences {
	if p == nil {
		return Preferences{}
	}
	return Preferences{FavoriteColors: p.FavoriteColors, Budget: p.Budget}
}

// ProfileStore returns (nil, nil) for an unknown identity.
type ProfileStore interface {
	GetProfile(ctx context.Context, identity string) (*Profile, error)
}

type CartItem struct {
	Identity  string `json:"identity"`
	ProductID int    `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type CartReceipt struct {
	CartID    string `json:"cart_id"`
	ItemCount int    `json:"item_count"`
}

type Cart interface {
	AddItem(ctx context.Context, item CartItem) (*CartReceipt, error)
}

type Preview struct {
	ID       string `json:"id"`
	ImageURL string `json:"image_url"`
}

type ImageGenerator interface {
	Generate(ctx context.Context, identity string, productID int, productType string) (*Preview, error)
}

type OutfitRequest struct {
	Identity string  `json:"identity"`
	Occasion string  `json:"occasion"`
	Budget   float64 `json:"budget"`
	Style    string  `json:"style,omitempty"`
	Season   string  `json:"season,omitempty"`
}

type Outfit struct {
	Items       []Product `json:"items"`
	TotalPrice  float64   `json:"total_price"`
	DiscountPct float64   `json:"discount_pct"`
}

type OutfitBuilder interface {
	Build(ctx context.Context, req OutfitRequest) (*Outfit, error)
}
