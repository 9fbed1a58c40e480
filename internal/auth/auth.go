// Package auth provides API authentication for ElderGuard.
//
// Authentication model:
// - Health and metrics endpoints: no auth required
// - Device tokens: submit behavior events and report trigger events
// - Care-team tokens: read assessments and alerts, trigger reviews,
//   acknowledge alerts
//
// Tokens are static shared secrets from the environment. A deployment
// serves one protected household, so per-member key issuance is not
// needed.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// Errors
var (
	ErrNoToken      = errors.New("bearer token required")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Role identifies what an authenticated caller may do.
type Role string

const (
	// RoleDevice is the monitored device agent. Device tokens ingest
	// behavior events and report trigger events; they cannot browse
	// assessments, history, or alerts.
	RoleDevice Role = "device"
	// RoleCareTeam covers dashboards and care-team tools.
	RoleCareTeam Role = "care_team"
)

// Authenticator validates static bearer tokens against the configured
// role secrets.
type Authenticator struct {
	deviceToken   []byte
	careTeamToken []byte
}

// NewAuthenticator creates an authenticator over the two role tokens.
// Empty tokens disable their role; with both empty the API runs open,
// for local development.
func NewAuthenticator(deviceToken, careTeamToken string) *Authenticator {
	return &Authenticator{
		deviceToken:   []byte(deviceToken),
		careTeamToken: []byte(careTeamToken),
	}
}

// Enabled reports whether any token is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.deviceToken) > 0 || len(a.careTeamToken) > 0
}

// Authenticate resolves a raw bearer token to its role. Both configured
// tokens are always compared so a mismatch costs the same either way.
func (a *Authenticator) Authenticate(rawToken string) (Role, error) {
	rawToken = strings.TrimPrefix(rawToken, "Bearer ")
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", ErrNoToken
	}

	raw := []byte(rawToken)
	careTeam := len(a.careTeamToken) > 0 && subtle.ConstantTimeCompare(raw, a.careTeamToken) == 1
	device := len(a.deviceToken) > 0 && subtle.ConstantTimeCompare(raw, a.deviceToken) == 1

	switch {
	case careTeam:
		return RoleCareTeam, nil
	case device:
		return RoleDevice, nil
	default:
		return "", ErrInvalidToken
	}
}
