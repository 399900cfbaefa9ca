package sip

import "github.com/google/uuid"

// generateTag produces a unique SIP From/To tag.
func generateTag() string {
	return uuid.New().String()[:8]
}
