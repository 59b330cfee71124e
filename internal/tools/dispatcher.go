// Package tools executes the model's tool calls against the store
// collaborators. Calls run one after another in the order the model emitted
// them, and every call yields exactly one Result; a failing call never stops
// the rest of the batch.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopkeeper/backend/internal/behavior"
	"github.com/shopkeeper/backend/internal/catalog"
	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/coupon"
	"github.com/shopkeeper/backend/internal/events"
	"github.com/shopkeeper/backend/internal/metrics"
	"github.com/shopkeeper/backend/internal/provider"
	"github.com/shopkeeper/backend/internal/session"
)

// DefaultFilterLimit caps filter_products results when the model gives no limit.
const DefaultFilterLimit = 5

// Result is the outcome of one tool call.
type Result struct {
	Tool    string      `json:"tool"`
	CallID  string      `json:"callId,omitempty"`
	Success bool        `json:"success"`
	Ignored bool        `json:"ignored,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type handler func(ctx context.Context, identity, args string) (interface{}, error)

type Deps struct {
	Search   collaborator.Searcher
	Cart     collaborator.Cart
	Images   collaborator.ImageGenerator
	Outfits  collaborator.OutfitBuilder
	Coupons  *coupon.Service
	Sessions session.Store
	Events   events.Emitter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Dispatcher struct {
	deps     Deps
	handlers map[catalog.Kind]handler
	logger   *slog.Logger
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	d := &Dispatcher{deps: deps, logger: deps.Logger}
	d.handlers = map[catalog.Kind]handler{
		catalog.FilterProducts: d.filterProducts,
		catalog.AddToCart:      d.addToCart,
		catalog.CreateDiscount: d.createDiscount,
		catalog.GenerateTryOn:  d.generateTryOn,
		catalog.CurateOutfit:   d.curateOutfit,
	}
	return d
}

// Dispatch runs calls for identity in order.
func (d *Dispatcher) Dispatch(ctx context.Context, identity string, calls []provider.ToolCall) []Result {
	results := make([]Result, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.dispatchOne(ctx, identity, call))
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, identity string, call provider.ToolCall) Result {
	name := call.Function.Name
	res := Result{Tool: name, CallID: call.ID}

	def, known := catalog.Lookup(name)
	h, ok := d.handlers[def.Kind]
	if !known || !ok {
		d.logger.Warn("[Tools] ignoring unknown tool", "identity", identity, "tool", name)
		d.deps.Metrics.ToolCall("unknown", "ignored")
		res.Ignored = true
		return res
	}
	log := d.logger.With("identity", identity, "tool", name, "class", string(def.ActionClass))

	payload, err := d.invoke(ctx, h, identity, call.Function.Arguments)
	if err != nil {
		log.Warn("[Tools] tool call failed", "error", err)
		d.deps.Metrics.ToolCall(name, "failure")
		if d.deps.Events != nil {
			d.deps.Events.Emit(events.TypeToolFailed, "/tools/"+name, identity, map[string]interface{}{
				"tool":         name,
				"action_class": string(def.ActionClass),
				"error":        err.Error(),
			})
		}
		res.Error = errorText(err)
		return res
	}

	if def.ActionClass == catalog.ClassMutate {
		log.Info("[Tools] side effect applied", "call_id", call.ID)
	}
	d.deps.Metrics.ToolCall(name, "success")
	res.Success = true
	res.Payload = payload
	return res
}

// invoke converts a panic in a handler into a failed result.
func (d *Dispatcher) invoke(ctx context.Context, h handler, identity, args string) (payload interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return h(ctx, identity, args)
}

// errorText is what the shopper-facing result carries.
func errorText(err error) string {
	var rejected *collaborator.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}
	if errors.Is(err, collaborator.ErrUnavailable) {
		return "service temporarily unavailable"
	}
	return err.Error()
}

var errNotConfigured = fmt.Errorf("not configured: %w", collaborator.ErrUnavailable)

func (d *Dispatcher) filterProducts(ctx context.Context, _ string, raw string) (interface{}, error) {
	args, err := catalog.ParseFilter(raw)
	if err != nil {
		return nil, err
	}
	if d.deps.Search == nil {
		return nil, errNotConfigured
	}
	limit := args.Limit
	if limit == 0 {
		limit = DefaultFilterLimit
	}

	hits, err := d.deps.Search.Search(ctx, args.Query, collaborator.Preferences{}, collaborator.MaxTopK)
	if err != nil {
		return nil, err
	}
	matched := make([]collaborator.Product, 0, limit)
	for _, p := range hits {
		if !matchesFilter(p, args) {
			continue
		}
		matched = append(matched, p)
		if len(matched) == limit {
			break
		}
	}
	return map[string]interface{}{
		"query":    args.Query,
		"products": matched,
		"count":    len(matched),
	}, nil
}

func matchesFilter(p collaborator.Product, a *catalog.FilterArgs) bool {
	if a.Category != "" &&
		!strings.EqualFold(p.Category, a.Category) && !strings.EqualFold(p.Subcategory, a.Category) {
		return false
	}
	if a.Color != "" && !anyContainsFold(p.Colors, a.Color) {
		return false
	}
	if a.Size != "" && !anyEqualFold(p.Sizes, a.Size) {
		return false
	}
	if a.MinPrice != nil && p.Price < *a.MinPrice {
		return false
	}
	if a.MaxPrice != nil && p.Price > *a.MaxPrice {
		return false
	}
	return true
}

func anyContainsFold(values []string, needle string) bool {
	needle = strings.ToLower(needle)
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}

func anyEqualFold(values []string, needle string) bool {
	for _, v := range values {
		if strings.EqualFold(v, needle) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) addToCart(ctx context.Context, identity, raw string) (interface{}, error) {
	args, err := catalog.ParseCart(raw)
	if err != nil {
		return nil, err
	}
	if d.deps.Cart == nil {
		return nil, errNotConfigured
	}
	receipt, err := d.deps.Cart.AddItem(ctx, collaborator.CartItem{
		Identity:  identity,
		ProductID: args.ProductID,
		Quantity:  args.Quantity,
		Size:      args.Size,
		Color:     args.Color,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"productId": args.ProductID,
		"quantity":  args.Quantity,
		"cartId":    receipt.CartID,
		"itemCount": receipt.ItemCount,
	}, nil
}

// createDiscount issues a code and makes it the shopper's active code,
// replacing any earlier one.
func (d *Dispatcher) createDiscount(ctx context.Context, identity, raw string) (interface{}, error) {
	args, err := catalog.ParseDiscount(raw)
	if err != nil {
		return nil, err
	}
	if d.deps.Coupons == nil {
		return nil, errNotConfigured
	}
	c, err := d.deps.Coupons.Create(ctx, identity, args.Percentage, args.Reason, 0)
	if err != nil {
		return nil, err
	}

	if d.deps.Sessions != nil {
		d.deps.Sessions.Update(identity, func(s *behavior.Session) { s.ActiveCode = c.Code })
	}
	if d.deps.Events != nil {
		d.deps.Events.Emit(events.TypeCouponIssued, "/tools/create_discount", identity, map[string]interface{}{
			"code":       c.Code,
			"percentage": c.Percentage,
			"expiresAt":  c.ExpiresAt,
		})
	}
	return map[string]interface{}{
		"code":       c.Code,
		"percentage": c.Percentage,
		"expiresAt":  c.ExpiresAt,
	}, nil
}

func (d *Dispatcher) generateTryOn(ctx context.Context, identity, raw string) (interface{}, error) {
	args, err := catalog.ParseTryOn(raw)
	if err != nil {
		return nil, err
	}
	if d.deps.Images == nil {
		return nil, errNotConfigured
	}
	preview, err := d.deps.Images.Generate(ctx, identity, args.ProductID, args.ProductType)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":        preview.ID,
		"imageUrl":  preview.ImageURL,
		"productId": args.ProductID,
	}, nil
}

func (d *Dispatcher) curateOutfit(ctx context.Context, identity, raw string) (interface{}, error) {
	args, err := catalog.ParseOutfit(raw)
	if err != nil {
		return nil, err
	}
	if d.deps.Outfits == nil {
		return nil, errNotConfigured
	}
	outfit, err := d.deps.Outfits.Build(ctx, collaborator.OutfitRequest{
		Identity: identity,
		Occasion: args.Occasion,
		Budget:   args.Budget,
		Style:    args.Style,
		Season:   args.Season,
	})
	if err != nil {
		return nil, err
	}
	return outfit, nil
}
