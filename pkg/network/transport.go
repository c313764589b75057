package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/tendant/phone-login/pkg/errors"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxBodySize bounds how much of a response is read.
const maxBodySize = 1 << 20

// Do builds the request for ep, executes it and parses a 2xx body.
// Non-2xx responses become ErrCodeInvalidResponse errors carrying the
// status and raw body.
func Do[T any](ctx context.Context, client Doer, ep Endpoint[T]) (T, error) {
	var zero T

	req, err := ep.Request(ctx)
	if err != nil {
		return zero, err
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, ctxErr
		}
		return zero, apperrors.Wrap(err, apperrors.ErrCodeUnknownResponse, "no response received")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return zero, apperrors.Wrap(err, apperrors.ErrCodeUnknownResponse, "failed to read response body")
	}

	slog.Debug("HTTP response", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, apperrors.InvalidResponse(resp.StatusCode, data)
	}

	return ep.parse(data)
}
