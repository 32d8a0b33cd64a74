package xstitch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
	"lol.mleku.dev/chk"
	"lol.mleku.dev/errorf"
)

// httpResolver queries a foreign strand's latest-pulse endpoint over
// HTTP. The response body is expected to be the bare CID string of the
// latest pulse.
type httpResolver struct {
	base   string
	client *http.Client
}

// NewHTTPResolver builds a Resolver that queries baseURL +
// "/strand/<id>/latest" for a foreign strand's latest pulse identifier.
func NewHTTPResolver(baseURL string, timeout time.Duration) Resolver {
	return &httpResolver{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (r *httpResolver) URL() string { return r.base }

func (r *httpResolver) ResolveLatest(ctx context.Context, strand cid.Cid) (cid.Cid, error) {
	target := r.base + "/strand/" + url.PathEscape(strand.String()) + "/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if chk.E(err) {
		return cid.Undef, errorf.E("xstitch: build request to %s: %w", target, err)
	}
	resp, err := r.client.Do(req)
	if chk.E(err) {
		return cid.Undef, errorf.E("xstitch: request %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return cid.Undef, errorf.E("xstitch: %s returned status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if chk.E(err) {
		return cid.Undef, errorf.E("xstitch: read response from %s: %w", target, err)
	}
	id, err := cid.Decode(strings.TrimSpace(string(body)))
	if chk.E(err) {
		return cid.Undef, errorf.E("xstitch: decode response from %s: %w", target, err)
	}
	return id, nil
}
