package network

import (
	"net/http"
	"net/url"
	"time"
)

// clock is replaced in tests.
var clock = time.Now

type phoneNumberBody struct {
	PhoneNumber string `json:"phoneNumber"`
}

type phoneLoginBody struct {
	OTP         string `json:"otp"`
	PhoneNumber string `json:"phoneNumber"`
}

func phonePath(cfg Configuration, phoneStylePath, verificationStylePath string) string {
	if cfg.PathStyle == PathStyleVerification {
		return "/" + cfg.AppID + verificationStylePath
	}
	return "/" + cfg.AppID + phoneStylePath
}

// PhoneAuth asks the backend to send a one-time code to phoneNumber.
func PhoneAuth(cfg Configuration, phoneNumber string) (Endpoint[NoContent], error) {
	ep := NewEndpoint[NoContent](http.MethodPost, phonePath(cfg, "/phone/auth", "/verification/sms"), cfg)
	ep.Parse = IgnoreBody
	return ep.WithJSONBody(phoneNumberBody{PhoneNumber: phoneNumber})
}

// PhoneLogin verifies otp for phoneNumber. The response is the app user
// bound to the number, or nil when the code was not accepted.
func PhoneLogin(cfg Configuration, phoneNumber, otp string) (Endpoint[*AppUser], error) {
	ep := NewEndpoint[*AppUser](http.MethodPost, phonePath(cfg, "/phone/login", "/verification/sms/otp"), cfg)
	ep.Parse = DecodeOptionalAppUser
	return ep.WithJSONBody(phoneLoginBody{OTP: otp, PhoneNumber: phoneNumber})
}

// PhoneDelete removes the account bound to phoneNumber.
func PhoneDelete(cfg Configuration, phoneNumber string) (Endpoint[NoContent], error) {
	method := http.MethodDelete
	if cfg.PathStyle == PathStyleVerification {
		method = http.MethodPost
	}
	ep := NewEndpoint[NoContent](method, phonePath(cfg, "/phone/users", "/verification/sms/delete"), cfg)
	ep.Parse = IgnoreBody
	return ep.WithJSONBody(phoneNumberBody{PhoneNumber: phoneNumber})
}

// RegisterAppUser creates a new app user, signed with the app secret.
// projectID is optional.
func RegisterAppUser(cfg Configuration, projectID string) (Endpoint[AppUserResponse], error) {
	ep := NewEndpoint[AppUserResponse](http.MethodPost, "/apps/"+cfg.AppID+"/users", cfg)
	if projectID != "" {
		ep.Query = url.Values{"project": {projectID}}
	}
	authorization, err := BasicAuthorization(cfg.AppID, cfg.AppSecret, clock())
	if err != nil {
		return ep, err
	}
	ep.Header = map[string]string{"Authorization": authorization}
	return ep, nil
}

// FetchToken requests a project token for appUser in the given scope.
func FetchToken(cfg Configuration, appUser AppUser, projectID string, scope Scope) (Endpoint[Token], error) {
	if scope == "" {
		scope = ScopeRetailerApp
	}
	ep := NewEndpoint[Token](http.MethodGet, "/tokens", cfg)
	ep.Query = url.Values{
		"project": {projectID},
		"role":    {string(scope)},
	}
	authorization, err := BasicAuthorization(cfg.AppID, cfg.AppSecret, clock(), appUser.ID, appUser.Secret)
	if err != nil {
		return ep, err
	}
	ep.Header = map[string]string{"Authorization": authorization}
	return ep, nil
}
