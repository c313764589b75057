package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// AppUser is the installation identity issued by the backend.
type AppUser struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// UnmarshalJSON accepts both "id" and "userID" for the identifier.
func (u *AppUser) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string `json:"id"`
		UserID string `json:"userID"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	u.ID = raw.ID
	if u.ID == "" {
		u.ID = raw.UserID
	}
	u.Secret = raw.Secret
	return nil
}

// IsValid reports whether both id and secret are present.
func (u AppUser) IsValid() bool {
	return u.ID != "" && u.Secret != ""
}

// LogValue keeps the secret out of logs.
func (u AppUser) LogValue() slog.Value {
	return slog.GroupValue(slog.String("id", u.ID))
}

// Scope is the role requested for a token.
type Scope string

const (
	ScopeRetailerApp   Scope = "retailerApp"
	ScopePaymentSystem Scope = "paymentSystem"
	ScopePointOfSale   Scope = "pointOfSale"
	ScopeGatekeeper    Scope = "gatekeeper"
)

// Token is a bearer credential scoped to a project.
type Token struct {
	ID        string    `json:"id"`
	Value     string    `json:"token"`
	IssuedAt  Timestamp `json:"issuedAt"`
	ExpiresAt Timestamp `json:"expiresAt"`
}

// IsValid reports whether the token has not expired yet.
func (t Token) IsValid() bool {
	return t.IsValidAt(time.Now())
}

// IsValidAt reports whether the token is still valid at now.
func (t Token) IsValidAt(now time.Time) bool {
	return t.ExpiresAt.Time().After(now)
}

// LogValue keeps the token value out of logs.
func (t Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", t.ID),
		slog.Time("expires_at", t.ExpiresAt.Time()),
	)
}

// Timestamp is encoded as seconds since the Unix epoch. RFC 3339 strings
// are accepted when decoding.
type Timestamp time.Time

// NewTimestamp truncates t to whole seconds.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.Truncate(time.Second))
}

func (ts Timestamp) Time() time.Time {
	return time.Time(ts)
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(ts).Unix(), 10)), nil
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*ts = Timestamp{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*ts = Timestamp(t)
		return nil
	}
	seconds, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * float64(time.Second))
	*ts = Timestamp(time.Unix(sec, nsec))
	return nil
}

// AppUserResponse is returned by app-user registration.
type AppUserResponse struct {
	AppUser AppUser `json:"appUser"`
	Token   *Token  `json:"token,omitempty"`
}

// NoContent is the response type of endpoints whose body is ignored.
type NoContent struct{}
