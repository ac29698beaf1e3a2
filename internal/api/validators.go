package api

import (
	"net/http"
	"strconv"

	"github.com/ernie/renx-relay/internal/domain"
)

var validOutcomes = map[string]bool{
	domain.OutcomeCompleted:  true,
	domain.OutcomeFaked:      true,
	domain.OutcomeSuppressed: true,
}

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= maxLimit {
			return parsed
		}
	}
	return defaultLimit
}

// parseBeforeID parses and validates a cursor-based pagination parameter
func parseBeforeID(r *http.Request) *int64 {
	if b := r.URL.Query().Get("before"); b != "" {
		if parsed, err := strconv.ParseInt(b, 10, 64); err == nil && parsed > 0 {
			return &parsed
		}
	}
	return nil
}

// validateOutcome checks if a journal outcome filter is valid
func validateOutcome(outcome string) bool {
	return validOutcomes[outcome]
}
