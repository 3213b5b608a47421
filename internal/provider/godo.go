package provider

// godo.go adapts the DigitalOcean SDK to the API interface. It is a thin
// translation layer: no retries, no logging, no policy. All of that lives
// with the callers.

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/digitalocean/godo"
)

// perPage is the page size for list calls; 200 is the DigitalOcean maximum.
const perPage = 200

type godoAPI struct {
	client *godo.Client
}

var _ API = (*godoAPI)(nil)

// NewGodo returns an API backed by the real DigitalOcean client.
func NewGodo(token string) API {
	return &godoAPI{client: godo.NewFromToken(token)}
}

func (g *godoAPI) CreateDroplet(ctx context.Context, spec DropletSpec) (Droplet, error) {
	keys := make([]godo.DropletCreateSSHKey, len(spec.KeyIDs))
	for i, id := range spec.KeyIDs {
		keys[i] = godo.DropletCreateSSHKey{ID: int(id)}
	}
	req := &godo.DropletCreateRequest{
		Name:     spec.Name,
		Region:   spec.Region,
		Size:     spec.Size,
		Image:    createImage(spec.Image),
		SSHKeys:  keys,
		Tags:     spec.Tags,
		UserData: spec.UserData,
	}
	d, _, err := g.client.Droplets.Create(ctx, req)
	if err != nil {
		return Droplet{}, fmt.Errorf("creating droplet %q: %w", spec.Name, err)
	}
	return fromGodoDroplet(d), nil
}

// createImage accepts either an image slug or a numeric snapshot id.
func createImage(image string) godo.DropletCreateImage {
	if id, err := strconv.Atoi(image); err == nil {
		return godo.DropletCreateImage{ID: id}
	}
	return godo.DropletCreateImage{Slug: image}
}

func (g *godoAPI) DropletStatus(ctx context.Context, id int64) (Droplet, error) {
	d, resp, err := g.client.Droplets.Get(ctx, int(id))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Droplet{}, fmt.Errorf("%w: droplet %d", ErrNotFound, id)
		}
		return Droplet{}, fmt.Errorf("fetching droplet %d: %w", id, err)
	}
	return fromGodoDroplet(d), nil
}

func (g *godoAPI) DeleteDroplet(ctx context.Context, id int64) error {
	resp, err := g.client.Droplets.Delete(ctx, int(id))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: droplet %d", ErrNotFound, id)
		}
		return fmt.Errorf("deleting droplet %d: %w", id, err)
	}
	return nil
}

func (g *godoAPI) CreateKey(ctx context.Context, name, publicKey string) (Key, error) {
	k, _, err := g.client.Keys.Create(ctx, &godo.KeyCreateRequest{
		Name:      name,
		PublicKey: publicKey,
	})
	if err != nil {
		return Key{}, fmt.Errorf("uploading key %q: %w", name, err)
	}
	return Key{ID: int64(k.ID), Name: k.Name, Fingerprint: k.Fingerprint}, nil
}

func (g *godoAPI) DeleteKey(ctx context.Context, id int64) error {
	resp, err := g.client.Keys.DeleteByID(ctx, int(id))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: key %d", ErrNotFound, id)
		}
		return fmt.Errorf("deleting key %d: %w", id, err)
	}
	return nil
}

func (g *godoAPI) ListDropletsByTag(ctx context.Context, tag string) ([]Droplet, error) {
	opt := &godo.ListOptions{PerPage: perPage}
	var out []Droplet
	for {
		droplets, resp, err := g.client.Droplets.ListByTag(ctx, tag, opt)
		if err != nil {
			return nil, fmt.Errorf("listing droplets by tag %q: %w", tag, err)
		}
		for i := range droplets {
			out = append(out, fromGodoDroplet(&droplets[i]))
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			return out, nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("paging droplet list: %w", err)
		}
		opt.Page = page + 1
	}
}

func (g *godoAPI) ListKeysByPrefix(ctx context.Context, prefix string) ([]Key, error) {
	opt := &godo.ListOptions{PerPage: perPage}
	var out []Key
	for {
		keys, resp, err := g.client.Keys.List(ctx, opt)
		if err != nil {
			return nil, fmt.Errorf("listing keys: %w", err)
		}
		for _, k := range keys {
			if strings.HasPrefix(k.Name, prefix) {
				out = append(out, Key{ID: int64(k.ID), Name: k.Name, Fingerprint: k.Fingerprint})
			}
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			return out, nil
		}
		page, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, fmt.Errorf("paging key list: %w", err)
		}
		opt.Page = page + 1
	}
}

func fromGodoDroplet(d *godo.Droplet) Droplet {
	out := Droplet{
		ID:     int64(d.ID),
		Name:   d.Name,
		Status: mapStatus(d.Status),
		Tags:   d.Tags,
	}
	// PublicIPv4 only errors on a nil receiver; an empty string simply means
	// networking has not come up yet.
	if ip, err := d.PublicIPv4(); err == nil {
		out.PublicIP = ip
	}
	return out
}

// mapStatus folds DigitalOcean's droplet status strings. Anything
// unrecognized (including "off", which cannot serve SSH) counts as errored.
func mapStatus(s string) Status {
	switch s {
	case "new":
		return StatusPending
	case "active":
		return StatusActive
	case "archive":
		return StatusArchived
	default:
		return StatusErrored
	}
}
