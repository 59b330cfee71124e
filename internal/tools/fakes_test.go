package tools

import (
	"context"
	"errors"
	"sync"

	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/events"
)

type fakeCart struct {
	items []collaborator.CartItem
	err   error
}

func (f *fakeCart) AddItem(_ context.Context, item collaborator.CartItem) (*collaborator.CartReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.items = append(f.items, item)
	return &collaborator.CartReceipt{CartID: "cart-" + item.Identity, ItemCount: len(f.items)}, nil
}

type fakeImages struct{ err error }

func (f *fakeImages) Generate(_ context.Context, _ string, productID int, _ string) (*collaborator.Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &collaborator.Preview{ID: "img-1", ImageURL: "https://cdn.example/img-1.png"}, nil
}

type panickyImages struct{}

func (panickyImages) Generate(context.Context, string, int, string) (*collaborator.Preview, error) {
	panic("renderer crashed")
}

type fakeSearch struct {
	products []collaborator.Product
	topK     int
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ collaborator.Preferences, topK int) ([]collaborator.Product, error) {
	f.topK = topK
	return f.products, nil
}

type fakeOutfits struct{}

func (fakeOutfits) Build(_ context.Context, req collaborator.OutfitRequest) (*collaborator.Outfit, error) {
	if req.Budget < 50 {
		return nil, &collaborator.RejectedError{Service: "outfit", StatusCode: 422, Message: "budget too low"}
	}
	return &collaborator.Outfit{TotalPrice: req.Budget - 10, DiscountPct: 5}, nil
}

type recordedEvent struct {
	Type, Subject string
	Data          map[string]interface{}
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeEmitter) Emit(eventType, _, subject string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, subject, data})
}

func (f *fakeEmitter) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.Type
	}
	return out
}

var errRenderer = errors.New("renderer offline")

var _ events.Emitter = (*fakeEmitter)(nil)
