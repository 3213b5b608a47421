// Package provider is the narrow slice of the DigitalOcean API the rest of
// the system consumes. The lifecycle controller only ever talks to the API
// interface, so tests swap in the providertest fake and never touch the
// network.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/digitalocean/godo"
)

// Status folds the provider's droplet states down to the four the lifecycle
// controller distinguishes.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusErrored  Status = "errored"
)

// DropletSpec is everything a droplet create call needs.
type DropletSpec struct {
	Name     string
	Region   string
	Size     string
	Image    string // slug, or a numeric snapshot id
	KeyIDs   []int64
	Tags     []string
	UserData string
}

// Droplet is the provider-side view of a VM.
type Droplet struct {
	ID       int64
	Name     string
	Status   Status
	PublicIP string // empty until active
	Tags     []string
}

// Key is the provider-side record of an uploaded public key.
type Key struct {
	ID          int64
	Name        string
	Fingerprint string
}

// ErrNotFound marks lookups and deletes of resources the provider no longer
// knows. A delete that hits it can treat the resource as already gone.
var ErrNotFound = fmt.Errorf("resource not found at provider")

// API is the provider surface the lifecycle controller consumes. Every call
// may fail transiently; callers classify with Transient and retry
// accordingly.
type API interface {
	CreateDroplet(ctx context.Context, spec DropletSpec) (Droplet, error)
	DropletStatus(ctx context.Context, id int64) (Droplet, error)
	DeleteDroplet(ctx context.Context, id int64) error
	CreateKey(ctx context.Context, name, publicKey string) (Key, error)
	DeleteKey(ctx context.Context, id int64) error
	ListDropletsByTag(ctx context.Context, tag string) ([]Droplet, error)
	ListKeysByPrefix(ctx context.Context, prefix string) ([]Key, error)
}

// Transient reports whether 'err' is worth retrying: rate limits, 5xx
// responses, and transport faults. Quota and validation failures (403, 422
// and friends) are permanent, retrying them only burns the session deadline.
func Transient(err error) bool {
	var respErr *godo.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response == nil {
			return true
		}
		code := respErr.Response.StatusCode
		return code == http.StatusTooManyRequests || code >= 500
	}
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Transport faults without a provider response (connection reset, DNS)
	// surface as *url.Error.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return false
}
