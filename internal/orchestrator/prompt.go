package orchestrator

import (
	"fmt"
	"strings"

	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/provider"
)

const (
	MaxHits    = 5
	MaxHistory = 10
)

// HistoryTurn is one prior message supplied by the client.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const persona = `You are the shopkeeper of an online clothing store. Help the shopper find products, ` +
	`answer questions about the catalog below and act on their behalf with the tools provided. ` +
	`Only recommend products that appear in the catalog results. You may grant a discount between ` +
	`5% and 30% with create_discount when the shopper negotiates reasonably; never promise one you ` +
	`have not created. Keep replies short and friendly.`

// buildSystemPrompt grounds the model in search hits, the shopper profile
// and the current haggle state.
func buildSystemPrompt(hits []collaborator.Product, profile *collaborator.Profile, penaltyActive bool, activeCode string) string {
	var b strings.Builder
	b.WriteString(persona)

	b.WriteString("\n\n## Catalog results\n")
	if len(hits) == 0 {
		b.WriteString("No matching products were found. Ask the shopper to describe what they want.\n")
	}
	for i, p := range hits {
		if i == MaxHits {
			break
		}
		fmt.Fprintf(&b, "- [id %d] %s, $%.2f, %s", p.ID, p.Name, p.Price, p.Category)
		if len(p.Colors) > 0 {
			fmt.Fprintf(&b, ", colors: %s", strings.Join(p.Colors, "/"))
		}
		if len(p.Sizes) > 0 {
			fmt.Fprintf(&b, ", sizes: %s", strings.Join(p.Sizes, "/"))
		}
		if p.Stock > 0 {
			fmt.Fprintf(&b, ", %d in stock", p.Stock)
		}
		if len(p.MatchReasons) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(p.MatchReasons, "; "))
		}
		b.WriteString("\n")
	}

	if profile != nil {
		b.WriteString("\n## Shopper profile\n")
		if profile.Name != "" {
			fmt.Fprintf(&b, "Name: %s\n", profile.Name)
		}
		if len(profile.FavoriteColors) > 0 {
			fmt.Fprintf(&b, "Favorite colors: %s\n", strings.Join(profile.FavoriteColors, ", "))
		}
		if profile.Budget != "" {
			fmt.Fprintf(&b, "Budget: %s\n", profile.Budget)
		}
		if len(profile.Sizes) > 0 {
			fmt.Fprintf(&b, "Sizes: %s\n", strings.Join(profile.Sizes, ", "))
		}
		orders := profile.Orders
		if len(orders) > collaborator.RecentOrders {
			orders = orders[:collaborator.RecentOrders]
		}
		for _, o := range orders {
			fmt.Fprintf(&b, "Past order %s on %s: %s ($%.2f)\n",
				o.ID, o.PlacedAt.Format("2006-01-02"), strings.Join(o.Items, ", "), o.Total)
		}
	}

	if penaltyActive {
		b.WriteString("\n## Store policy\nThe shopper was rude earlier and a surcharge is in effect. " +
			"Stay polite and do not grant discounts until they apologise.\n")
	}
	if activeCode != "" {
		fmt.Fprintf(&b, "\nThe shopper already holds discount code %s.\n", activeCode)
	}
	return b.String()
}

// buildMessages assembles the system prompt, the last MaxHistory turns and
// the new message. Turns with roles other than user or assistant are dropped.
func buildMessages(system string, history []HistoryTurn, text string) []provider.Message {
	kept := make([]HistoryTurn, 0, len(history))
	for _, h := range history {
		if (h.Role == "user" || h.Role == "assistant") && strings.TrimSpace(h.Content) != "" {
			kept = append(kept, h)
		}
	}
	if len(kept) > MaxHistory {
		kept = kept[len(kept)-MaxHistory:]
	}

	msgs := make([]provider.Message, 0, len(kept)+2)
	msgs = append(msgs, provider.Message{Role: "system", Content: system})
	for _, h := range kept {
		msgs = append(msgs, provider.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: text})
	return msgs
}
