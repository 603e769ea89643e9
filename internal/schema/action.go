// Package schema defines the canonical record types flowing through the
// decision-consensus and validated-execution pipeline.
package schema

import (
	"strings"

	"github.com/quorumlab/quorum/errs"
)

// Action is the advisory direction proposed for an instrument.
type Action string

const (
	// ActionBuy proposes increasing the position.
	ActionBuy Action = "buy"
	// ActionSell proposes decreasing the position.
	ActionSell Action = "sell"
	// ActionHold proposes no change. Hold is also the fallback whenever
	// consensus cannot be reached.
	ActionHold Action = "hold"
)

// ParseAction normalizes a raw action string.
func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return ActionBuy, nil
	case "sell":
		return ActionSell, nil
	case "hold", "":
		return ActionHold, nil
	default:
		return "", errs.New("schema/action", errs.CodeInvalid,
			errs.WithMessage("unknown action "+strings.TrimSpace(raw)))
	}
}

// Valid reports whether the action is one of buy, sell or hold.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// ValidateInstrument verifies the canonical instrument representation (BASE-QUOTE).
func ValidateInstrument(symbol string) error {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument required"))
	}
	parts := strings.Split(symbol, "-")
	if len(parts) != 2 {
		return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument requires base-quote"))
	}
	for _, part := range parts {
		if part == "" {
			return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument contains empty leg"))
		}
		if strings.ToUpper(part) != part {
			return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage("instrument must be uppercase"))
		}
	}
	return nil
}

// NormalizeInstrument uppercases and trims an instrument symbol.
func NormalizeInstrument(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
