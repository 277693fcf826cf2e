package domain

import "fmt"

// InitiatorPolicy decides which side of a pair creates the offer.
type InitiatorPolicy string

const (
	// PolicyLexical makes the participant with the smaller id initiate.
	// Both sides reach the same answer whatever message they saw first.
	PolicyLexical InitiatorPolicy = "lexical"
	// PolicyArrival initiates towards roster entries and answers newcomers.
	// It matches clients that rely on relay ordering.
	PolicyArrival InitiatorPolicy = "arrival"
)

func ParseInitiatorPolicy(raw string) (InitiatorPolicy, error) {
	switch p := InitiatorPolicy(raw); p {
	case PolicyLexical, PolicyArrival:
		return p, nil
	case "":
		return PolicyLexical, nil
	default:
		return "", fmt.Errorf("unknown initiator policy %q", raw)
	}
}

// Initiates reports whether local should create the offer towards remote.
// fromRoster is true when remote was learned from the roster message.
func (p InitiatorPolicy) Initiates(local, remote UserID, fromRoster bool) bool {
	if p == PolicyArrival {
		return fromRoster
	}
	return local < remote
}
