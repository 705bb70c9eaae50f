package models

import "fmt"

// TradeState is the lifecycle position of a trade
type TradeState string

const (
	TradePending  TradeState = ApprovalPending
	TradeApproved TradeState = ApprovalApproved
	TradeRejected TradeState = ApprovalRejected
	TradeSold     TradeState = "sold"
)

var tradeTransitions = map[TradeState][]TradeState{
	TradePending:  {TradeApproved, TradeRejected},
	TradeApproved: {TradeSold},
}

// CanTransition reports whether from -> to is a legal trade edge.
func CanTransition(from, to TradeState) bool {
	for _, next := range tradeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition for illegal edges.
func CheckTransition(from, to TradeState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: trade cannot move from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Decision is an admin's review outcome
type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}
