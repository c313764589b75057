package network

import (
	"fmt"
	"strings"
)

// Environment selects the backend deployment.
type Environment string

const (
	EnvironmentTesting    Environment = "testing"
	EnvironmentStaging    Environment = "staging"
	EnvironmentProduction Environment = "production"
)

// BaseURL returns the API root of the environment.
func (e Environment) BaseURL() string {
	switch e {
	case EnvironmentStaging:
		return "https://api.snabble-staging.io"
	case EnvironmentProduction:
		return "https://api.snabble.io"
	default:
		return "https://api.snabble-testing.io"
	}
}

// ParseEnvironment accepts the environment names, plus "development" as an
// alias for testing.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "testing", "development", "dev", "":
		return EnvironmentTesting, nil
	case "staging":
		return EnvironmentStaging, nil
	case "production", "prod":
		return EnvironmentProduction, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// PathStyle selects between the two generations of the phone endpoints.
type PathStyle string

const (
	// PathStylePhone uses /{appId}/phone/auth, /phone/login and DELETE /phone/users.
	PathStylePhone PathStyle = "phone"
	// PathStyleVerification uses POST /{appId}/verification/sms[/otp|/delete].
	PathStyleVerification PathStyle = "verification"
)

// ParsePathStyle maps a configuration value to a PathStyle.
func ParsePathStyle(s string) (PathStyle, error) {
	switch PathStyle(strings.ToLower(strings.TrimSpace(s))) {
	case PathStylePhone, "":
		return PathStylePhone, nil
	case PathStyleVerification:
		return PathStyleVerification, nil
	}
	return "", fmt.Errorf("unknown path style %q", s)
}

// Configuration identifies the app against the backend.
type Configuration struct {
	AppID       string
	AppSecret   string // base32 TOTP secret
	Environment Environment
	ProjectID   string

	// BaseURL overrides Environment.BaseURL when set.
	BaseURL   string
	PathStyle PathStyle
}

func (c Configuration) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return c.Environment.BaseURL()
}

// key identifies a configuration for request coalescing.
func (c Configuration) key() string {
	return c.AppID + "|" + c.baseURL() + "|" + c.ProjectID
}
