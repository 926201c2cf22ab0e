package domain

import "strings"

// RoutingMode picks the recipient rule set. It is fixed at startup.
type RoutingMode string

const (
	ModeDevelopment RoutingMode = "development"
	ModeStaging     RoutingMode = "staging"
	ModeProduction  RoutingMode = "production"
)

func (m RoutingMode) IsValid() bool {
	switch m {
	case ModeDevelopment, ModeStaging, ModeProduction:
		return true
	}
	return false
}

// ParseRoutingMode accepts the usual short aliases ("dev", "stage", "prod").
func ParseRoutingMode(s string) (RoutingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "staging", "stage":
		return ModeStaging, nil
	case "production", "prod":
		return ModeProduction, nil
	}
	return "", ErrInvalidRoutingMode
}
