package network

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

// PasscodeOptions are the TOTP parameters shared with the backend:
// 30 second period, 8 digits, HMAC-SHA256.
var PasscodeOptions = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsEight,
	Algorithm: otp.AlgorithmSHA256,
}

// Passcode derives the one-time password for the base32 secret at t.
func Passcode(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t.UTC(), PasscodeOptions)
	if err != nil {
		return "", apperrors.Unexpected(err)
	}
	return code, nil
}

// BasicAuthorization returns the value of a Basic Authorization header:
// base64("<appId>:<passcode>[:<extra>...]").
func BasicAuthorization(appID, secret string, t time.Time, extra ...string) (string, error) {
	code, err := Passcode(secret, t)
	if err != nil {
		return "", err
	}
	parts := append([]string{appID, code}, extra...)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(strings.Join(parts, ":"))), nil
}
