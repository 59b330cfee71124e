package collaborator

import (
	"context"
	"time"

	"github.com/shopkeeper/backend/internal/circuitbreaker"
)

// MaxTopK is the largest result count the search service accepts.
const MaxTopK = 20

type searchRequest struct {
	Query           string      `json:"query"`
	UserPreferences Preferences `json:"user_preferences"`
	TopK            int         `json:"top_k"`
}

type searchResponse struct {
	Products     []Product `json:"products"`
	Query        string    `json:"query"`
	SearchTimeMs int       `json:"search_time_ms"`
	TotalResults int       `json:"total_results"`
}

// HTTPSearch calls the semantic catalog search service.
type HTTPSearch struct {
	client jsonClient
}

func NewHTTPSearch(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) *HTTPSearch {
	return &HTTPSearch{client: newJSONClient("search", baseURL, timeout, breaker)}
}

// Search returns at most topK products, best match first. topK is clamped
// to [1, MaxTopK].
func (s *HTTPSearch) Search(ctx context.Context, query string, prefs Preferences, topK int) ([]Product, error) {
	if topK < 1 {
		topK = 1
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	var out searchResponse
	if err := s.client.post(ctx, "/search", searchRequest{Query: query, UserPreferences: prefs, TopK: topK}, &out); err != nil {
		return nil, err
	}
	if len(out.Products) > topK {
		out.Products = out.Products[:topK]
	}
	return out.Products, nil
}
