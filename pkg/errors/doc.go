// Package errors provides structured error handling with error codes for phone-login.
//
// Every failure the network layer reports is an *Error carrying one of the
// ErrCode constants, so callers can branch on the kind of failure without
// string matching.
//
// # Basic Usage
//
//	import apperrors "github.com/tendant/phone-login/pkg/errors"
//
//	// Non-2xx response
//	err := apperrors.InvalidResponse(http.StatusForbidden, body)
//
//	// Wrap an existing error
//	err := apperrors.Wrap(jsonErr, apperrors.ErrCodeDecodeFailed, "failed to decode token")
//
// # Error Codes
//
// Network:
//   - ErrCodeInvalidEndpoint: the request could not be built
//   - ErrCodeInvalidResponse: the server answered with a non-2xx status
//   - ErrCodeUnknownResponse: no HTTP response was received
//   - ErrCodeUnexpected: signing or another local step failed
//   - ErrCodeDecodeFailed: the response body could not be decoded
//
// Authenticator:
//   - ErrCodeMissingAuthenticator: no delegate supplies app-user data
//   - ErrCodeMissingProject: the delegate returned no project id
//
// # Error Inspection
//
//	if apperrors.IsAuthorizationFailure(err) {
//		// 401 or 403, the token is stale
//	}
//
//	status := apperrors.StatusCode(err)
//	body, _ := apperrors.GetDetails(err)["body"].(string)
//
// # HTTP Status Code Mapping
//
// HTTPStatusCode reports the received status for invalid responses and a
// mapped status otherwise:
//   - ErrCodeInvalidInput, ErrCodeInvalidCode → 400 Bad Request
//   - ErrCodeUnauthorized → 401 Unauthorized
//   - ErrCodeNotFound → 404 Not Found
//   - ErrCodeRateLimitExceeded → 429 Too Many Requests
//   - ErrCodeInternal → 500 Internal Server Error
package errors
