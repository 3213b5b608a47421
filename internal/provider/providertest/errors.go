package providertest

// errors.go produces the error shapes godo hands back for the interesting
// HTTP statuses, so classification behavior is testable without the network.

import (
	"net/http"
	"net/url"

	"github.com/digitalocean/godo"
)

// RateLimited is the 429 a burst of create calls runs into.
func RateLimited() error {
	return godoError(http.StatusTooManyRequests, "too many requests")
}

// ServerError is a transient 503 from the provider's side.
func ServerError() error {
	return godoError(http.StatusServiceUnavailable, "service temporarily unavailable")
}

// Unprocessable is the 422 an invalid image slug or exhausted quota earns.
func Unprocessable() error {
	return godoError(http.StatusUnprocessableEntity, "failed to resolve image")
}

// Forbidden is a 403, typically an account-level block.
func Forbidden() error {
	return godoError(http.StatusForbidden, "droplet limit reached")
}

func godoError(status int, message string) error {
	return &godo.ErrorResponse{
		Response: &http.Response{
			StatusCode: status,
			// godo's Error() formats the request line, so both fields must be
			// populated.
			Request: &http.Request{
				Method: http.MethodPost,
				URL:    &url.URL{Scheme: "https", Host: "api.digitalocean.com", Path: "/v2/droplets"},
			},
		},
		Message: message,
	}
}
