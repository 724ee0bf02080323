package domain

import (
	"strings"
	"time"
)

// FraudIndicator tags a heuristic that matched at dispute creation
type FraudIndicator string

const (
	FraudRepeatDisputer  FraudIndicator = "repeat_disputer"
	FraudRapidDispute    FraudIndicator = "rapid_dispute"
	FraudPaymentLanguage FraudIndicator = "payment_dispute_language"
)

const (
	fraudRepeatThreshold = 3
	fraudRepeatWindow    = 30 * 24 * time.Hour
	fraudRapidWindow     = 2 * time.Hour
	fraudFlagThreshold   = 2
)

var fraudTerms = []string{
	"chargeback",
	"charge back",
	"bank",
	"credit card",
	"card issuer",
	"issuing bank",
}

// FraudHistory is the context the evaluator needs about past activity
type FraudHistory struct {
	PurchasedAt time.Time
	OpenedAt    time.Time
	// RecentDisputes counts disputes opened by the disputer in the trailing window
	RecentDisputes int
}

// FraudLookback is the trailing window callers should count RecentDisputes over.
func FraudLookback() time.Duration {
	return fraudRepeatWindow
}

// EvaluateFraud runs every heuristic independently and returns the tags that matched.
func EvaluateFraud(draft DisputeDraft, history FraudHistory) []FraudIndicator {
	indicators := []FraudIndicator{}

	if history.RecentDisputes > fraudRepeatThreshold {
		indicators = append(indicators, FraudRepeatDisputer)
	}

	if !history.PurchasedAt.IsZero() && history.OpenedAt.Sub(history.PurchasedAt) < fraudRapidWindow {
		indicators = append(indicators, FraudRapidDispute)
	}

	text := strings.ToLower(draft.Title + " " + draft.Description)
	for _, term := range fraudTerms {
		if strings.Contains(text, term) {
			indicators = append(indicators, FraudPaymentLanguage)
			break
		}
	}

	return indicators
}

// IsFlaggedAsFraud is derived from the indicator count
func IsFlaggedAsFraud(indicators []FraudIndicator) bool {
	return len(indicators) > fraudFlagThreshold
}
