package fusion

// Action is the categorical recommendation derived from a fused score.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionHold Action = "hold"
	ActionSell Action = "sell"
)

// Score thresholds on the 0-10 fused scale.
const (
	BuyThreshold  = 7.0
	HoldThreshold = 4.0
)

// ActionFor maps a fused score to an action.
func ActionFor(score float64) Action {
	switch {
	case score >= BuyThreshold:
		return ActionBuy
	case score >= HoldThreshold:
		return ActionHold
	default:
		return ActionSell
	}
}
