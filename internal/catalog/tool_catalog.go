// Package catalog defines the closed set of tools the model may call, their
// JSON schemas, and the typed argument validation applied before dispatch.
package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopkeeper/backend/internal/provider"
)

// Kind names a tool.
type Kind string

const (
	FilterProducts Kind = "filter_products"
	AddToCart      Kind = "add_to_cart"
	CreateDiscount Kind = "create_discount"
	GenerateTryOn  Kind = "generate_tryon"
	CurateOutfit   Kind = "curate_outfit"
)

// ActionClass separates read-only tools from ones with side effects.
type ActionClass string

const (
	ClassRead   ActionClass = "read"
	ClassMutate ActionClass = "mutate"
)

// Definition is one catalog entry.
type Definition struct {
	Kind        Kind            `json:"name"`
	Description string          `json:"description"`
	ActionClass ActionClass     `json:"action_class"`
	Schema      json.RawMessage `json:"schema"`
}

var definitions = []Definition{
	{
		Kind:        FilterProducts,
		Description: "Search the catalog and narrow the results by category, color, size or price.",
		ActionClass: ClassRead,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query":     {"type": "string", "description": "What the shopper is looking for"},
				"category":  {"type": "string"},
				"color":     {"type": "string"},
				"size":      {"type": "string"},
				"min_price": {"type": "number", "minimum": 0},
				"max_price": {"type": "number", "minimum": 0},
				"limit":     {"type": "integer", "minimum": 1, "maximum": 20}
			},
			"required": ["query"]
		}`),
	},
	{
		Kind:        AddToCart,
		Description: "Add a product to the shopper's cart.",
		ActionClass: ClassMutate,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"product_id": {"type": "integer"},
				"quantity":   {"type": "integer", "minimum": 1, "default": 1},
				"size":       {"type": "string"},
				"color":      {"type": "string"}
			},
			"required": ["product_id"]
		}`),
	},
	{
		Kind:        CreateDiscount,
		Description: "Grant the shopper a single-use discount code valid for 15 minutes.",
		ActionClass: ClassMutate,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"percentage": {"type": "integer", "minimum": 5, "maximum": 30},
				"reason":     {"type": "string"}
			},
			"required": ["percentage"]
		}`),
	},
	{
		Kind:        GenerateTryOn,
		Description: "Render a preview image of the shopper wearing a product.",
		ActionClass: ClassMutate,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"product_id":   {"type": "integer"},
				"product_type": {"type": "string", "description": "e.g. jacket, dress, shoes"}
			},
			"required": ["product_id", "product_type"]
		}`),
	},
	{
		Kind:        CurateOutfit,
		Description: "Assemble a complete outfit for an occasion within a budget.",
		ActionClass: ClassRead,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"occasion": {"type": "string"},
				"budget":   {"type": "number", "exclusiveMinimum": 0},
				"style":    {"type": "string"},
				"season":   {"type": "string"}
			},
			"required": ["occasion", "budget"]
		}`),
	},
}

// Definitions returns every tool in a stable order.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}

// Lookup reports whether name is a known tool.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if string(d.Kind) == name {
			return d, true
		}
	}
	return Definition{}, false
}

// ToolSchemas renders the catalog in the chat-completions tools format.
func ToolSchemas() []provider.ToolSchema {
	out := make([]provider.ToolSchema, 0, len(definitions))
	for _, d := range definitions {
		out = append(out, provider.ToolSchema{
			Type: "function",
			Function: provider.FunctionSchema{
				Name:        string(d.Kind),
				Description: d.Description,
				Parameters:  d.Schema,
			},
		})
	}
	return out
}

// ArgumentError reports a tool call whose arguments do not match the schema.
type ArgumentError struct {
	Tool   Kind
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func argErr(k Kind, format string, args ...interface{}) error {
	return &ArgumentError{Tool: k, Reason: fmt.Sprintf(format, args...)}
}

type FilterArgs struct {
	Query    string   `json:"query"`
	Category string   `json:"category,omitempty"`
	Color    string   `json:"color,omitempty"`
	Size     string   `json:"size,omitempty"`
	MinPrice *float64 `json:"min_price,omitempty"`
	MaxPrice *float64 `json:"max_price,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

type CartArgs struct {
	ProductID int    `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type DiscountArgs struct {
	Percentage int    `json:"percentage"`
	Reason     string `json:"reason,omitempty"`
}

type TryOnArgs struct {
	ProductID   int    `json:"product_id"`
	ProductType string `json:"product_type"`
}

type OutfitArgs struct {
	Occasion string  `json:"occasion"`
	Budget   float64 `json:"budget"`
	Style    string  `json:"style,omitempty"`
	Season   string  `json:"season,omitempty"`
}

// decode parses raw into a generic object. Models sometimes send "" for a
// call with no arguments; that decodes as an empty object.
func decode(k Kind, raw string) (map[string]interface{}, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "{}"
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, argErr(k, "arguments are not a JSON object: %v", err)
	}
	return m, nil
}

func str(m map[string]interface{}, k Kind, field string, required bool) (string, error) {
	v, ok := m[field]
	if !ok || v == nil {
		if required {
			return "", argErr(k, "%s is required", field)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", argErr(k, "%s must be a string", field)
	}
	s = strings.TrimSpace(s)
	if required && s == "" {
		return "", argErr(k, "%s must not be empty", field)
	}
	return s, nil
}

func num(m map[string]interface{}, k Kind, field string, required bool) (*float64, error) {
	v, ok := m[field]
	if !ok || v == nil {
		if required {
			return nil, argErr(k, "%s is required", field)
		}
		return nil, nil
	}
	f, ok := v.(float64)
	if !ok {
		return nil, argErr(k, "%s must be a number", field)
	}
	return &f, nil
}

func integer(m map[string]interface{}, k Kind, field string, required bool) (*int, error) {
	f, err := num(m, k, field, required)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != math.Trunc(*f) {
		return nil, argErr(k, "%s must be a whole number", field)
	}
	i := int(*f)
	return &i, nil
}

func ParseFilter(raw string) (*FilterArgs, error) {
	m, err := decode(FilterProducts, raw)
	if err != nil {
		return nil, err
	}
	var a FilterArgs
	if a.Query, err = str(m, FilterProducts, "query", true); err != nil {
		return nil, err
	}
	if a.Category, err = str(m, FilterProducts, "category", false); err != nil {
		return nil, err
	}
	if a.Color, err = str(m, FilterProducts, "color", false); err != nil {
		return nil, err
	}
	if a.Size, err = str(m, FilterProducts, "size", false); err != nil {
		return nil, err
	}
	if a.MinPrice, err = num(m, FilterProducts, "min_price", false); err != nil {
		return nil, err
	}
	if a.MaxPrice, err = num(m, FilterProducts, "max_price", false); err != nil {
		return nil, err
	}
	if a.MinPrice != nil && a.MaxPrice != nil && *a.MinPrice > *a.MaxPrice {
		return nil, argErr(FilterProducts, "min_price exceeds max_price")
	}
	limit, err := integer(m, FilterProducts, "limit", false)
	if err != nil {
		return nil, err
	}
	if limit != nil {
		if *limit < 1 || *limit > 20 {
			return nil, argErr(FilterProducts, "limit must be between 1 and 20")
		}
		a.Limit = *limit
	}
	return &a, nil
}

func ParseCart(raw string) (*CartArgs, error) {
	m, err := decode(AddToCart, raw)
	if err != nil {
		return nil, err
	}
	id, err := integer(m, AddToCart, "product_id", true)
	if err != nil {
		return nil, err
	}
	a := CartArgs{ProductID: *id, Quantity: 1}
	qty, err := integer(m, AddToCart, "quantity", false)
	if err != nil {
		return nil, err
	}
	if qty != nil {
		if *qty < 1 {
			return nil, argErr(AddToCart, "quantity must be at least 1")
		}
		a.Quantity = *qty
	}
	if a.Size, err = str(m, AddToCart, "size", false); err != nil {
		return nil, err
	}
	if a.Color, err = str(m, AddToCart, "color", false); err != nil {
		return nil, err
	}
	return &a, nil
}

// ParseDiscount checks only the shape; the coupon service owns the range.
func ParseDiscount(raw string) (*DiscountArgs, error) {
	m, err := decode(CreateDiscount, raw)
	if err != nil {
		return nil, err
	}
	pct, err := integer(m, CreateDiscount, "percentage", true)
	if err != nil {
		return nil, err
	}
	a := DiscountArgs{Percentage: *pct}
	if a.Reason, err = str(m, CreateDiscount, "reason", false); err != nil {
		return nil, err
	}
	return &a, nil
}

func ParseTryOn(raw string) (*TryOnArgs, error) {
	m, err := decode(GenerateTryOn, raw)
	if err != nil {
		return nil, err
	}
	id, err := integer(m, GenerateTryOn, "product_id", true)
	if err != nil {
		return nil, err
	}
	a := TryOnArgs{ProductID: *id}
	if a.ProductType, err = str(m, GenerateTryOn, "product_type", true); err != nil {
		return nil, err
	}
	return &a, nil
}

func ParseOutfit(raw string) (*OutfitArgs, error) {
	m, err := decode(CurateOutfit, raw)
	if err != nil {
		return nil, err
	}
	var a OutfitArgs
	if a.Occasion, err = str(m, CurateOutfit, "occasion", true); err != nil {
		return nil, err
	}
	budget, err := num(m, CurateOutfit, "budget", true)
	if err != nil {
		return nil, err
	}
	if *budget <= 0 {
		return nil, argErr(CurateOutfit, "budget must be positive")
	}
	a.Budget = *budget
	if a.Style, err = str(m, CurateOutfit, "style", false); err != nil {
		return nil, err
	}
	if a.Season, err = str(m, CurateOutfit, "season", false); err != nil {
		return nil, err
	}
	return &a, nil
}
