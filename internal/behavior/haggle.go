package behavior

import "fmt"

// EffectType is the price modifier a transition emits.
type EffectType string

const (
	EffectIncrease EffectType = "increase"
	EffectReset    EffectType = "reset"
)

// PoliteToForgive is how many consecutive polite messages lift a penalty.
const PoliteToForgive = 2

// DefaultPenaltyPercent is the markup applied while a shopper is penalized.
const DefaultPenaltyPercent = 5.0

// Session is the per-identity haggle state. PoliteCount only matters while
// PenaltyActive is set.
type Session struct {
	ActiveCode    string `json:"activeCode,omitempty"`
	PenaltyActive bool   `json:"penaltyActive"`
	PoliteCount   int    `json:"politeCount"`
}

// Effect is the presentational price modifier attached to a response. It
// never touches order totals.
type Effect struct {
	Type       EffectType `json:"type"`
	Percentage float64    `json:"percentage"`
	Message    string     `json:"message"`
}

// Haggler applies the penalty state machine with a fixed markup.
type Haggler struct {
	penalty float64
}

func NewHaggler(penaltyPercent float64) *Haggler {
	if penaltyPercent <= 0 {
		penaltyPercent = DefaultPenaltyPercent
	}
	return &Haggler{penalty: penaltyPercent}
}

// Apply mutates s for one classified message and returns the effect, if any.
//
//	Normal    + rude    -> Penalized, increase
//	Penalized + rude    -> no effect, polite streak cleared
//	Penalized + polite  -> streak++, reset once it reaches PoliteToForgive
//	any       + neutral -> state kept, polite streak cleared
func (h *Haggler) Apply(s *Session, sentiment Sentiment) *Effect {
	switch sentiment {
	case Rude:
		s.PoliteCount = 0
		if s.PenaltyActive {
			return nil
		}
		s.PenaltyActive = true
		return &Effect{
			Type:       EffectIncrease,
			Percentage: h.penalty,
			Message:    fmt.Sprintf("Prices just went up %g%%. A little courtesy goes a long way.", h.penalty),
		}

	case Polite:
		if !s.PenaltyActive {
			s.PoliteCount = 0
			return nil
		}
		s.PoliteCount++
		if s.PoliteCount < PoliteToForgive {
			return nil
		}
		s.PenaltyActive = false
		s.PoliteCount = 0
		return &Effect{
			Type:       EffectReset,
			Percentage: 0,
			Message:    "Apology accepted. Prices are back to normal.",
		}

	default:
		s.PoliteCount = 0
		return nil
	}
}
