package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkeeper/backend/internal/circuitbreaker"
)

func TestSearchWireFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "black boots", req.Query)
		assert.Equal(t, []string{"black"}, req.UserPreferences.FavoriteColors)
		assert.Equal(t, 5, req.TopK)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"products": []map[string]interface{}{
				{"id": 7, "name": "Chelsea Boot", "price": 129.0, "category": "shoes",
					"colors": []string{"black"}, "similarity_score": 0.91, "match_reasons": []string{"color match"}},
			},
			"query": req.Query, "search_time_ms": 12, "total_results": 1,
		})
	}))
	defer srv.Close()

	s := NewHTTPSearch(srv.URL, time.Second, nil)
	got, err := s.Search(context.Background(), "black boots", Preferences{FavoriteColors: []string{"black"}}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7, got[0].ID)
	assert.Equal(t, 0.91, got[0].SimilarityScore)
	assert.Equal(t, []string{"color match"}, got[0].MatchReasons)
}

func TestSearchClampsTopK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, MaxTopK, req.TopK)
		w.Write([]byte(`{"products":[]}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSearch(srv.URL, time.Second, nil).Search(context.Background(), "q", Preferences{}, 99)
	require.NoError(t, err)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"Index not ready"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPSearch(srv.URL, time.Second, nil).Search(context.Background(), "q", Preferences{}, 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMissingEndpointIsUnavailable(t *testing.T) {
	_, err := NewHTTPCart("", time.Second, nil).AddItem(context.Background(), CartItem{Identity: "u1", ProductID: 1, Quantity: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRejectionKeepsBreakerClosed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"out of stock"}`))
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig("cart")
	cfg.ReadyToTrip = func(c circuitbreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	cb := circuitbreaker.New(cfg)
	cart := NewHTTPCart(srv.URL, time.Second, cb)

	for i := 0; i < 3; i++ {
		_, err := cart.AddItem(context.Background(), CartItem{Identity: "u1", ProductID: 3, Quantity: 1})
		var rejected *RejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, "out of stock", rejected.Message)
		assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestOpenBreakerFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig("image")
	cfg.ReadyToTrip = func(c circuitbreaker.Counts) bool { return c.ConsecutiveFailures >= 1 }
	gen := NewHTTPImageGenerator(srv.URL, time.Second, circuitbreaker.New(cfg))

	_, err := gen.Generate(context.Background(), "u1", 4, "jacket")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = gen.Generate(context.Background(), "u1", 4, "jacket")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), circuitbreaker.ErrCircuitOpen.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestOutfitAndPreviewDecode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/outfits", func(w http.ResponseWriter, r *http.Request) {
		var req OutfitRequest
		json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "wedding", req.Occasion)
		w.Write([]byte(`{"items":[{"id":1,"name":"Suit","price":300}],"total_price":300,"discount_pct":10}`))
	})
	mux.HandleFunc("/tryon", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"img-1","image_url":"https://cdn.example/img-1.png"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	outfit, err := NewHTTPOutfitBuilder(srv.URL, time.Second, nil).Build(context.Background(),
		OutfitRequest{Identity: "u1", Occasion: "wedding", Budget: 400})
	require.NoError(t, err)
	assert.Equal(t, 300.0, outfit.TotalPrice)
	assert.Equal(t, 10.0, outfit.DiscountPct)

	preview, err := NewHTTPImageGenerator(srv.URL, time.Second, nil).Generate(context.Background(), "u1", 1, "suit")
	require.NoError(t, err)
	assert.Equal(t, "img-1", preview.ID)
}

func TestMemoryProfileStoreTruncatesOrders(t *testing.T) {
	store := NewMemoryProfileStore(Profile{
		Identity: "u1",
		Budget:   "medium",
		Orders:   []Order{{ID: "o4"}, {ID: "o3"}, {ID: "o2"}, {ID: "o1"}},
	})

	p, err := store.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, p.Orders, RecentOrders)
	assert.Equal(t, "o4", p.Orders[0].ID)
	assert.Equal(t, "medium", p.Preferences().Budget)

	missing, err := store.GetProfile(context.Background(), "u2")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, Preferences{}, missing.Preferences())
}
