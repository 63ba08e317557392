// Package httpstore implements a read-only store over an HTTP mirror. The
// patch engine uses it as a last-resort source when files cannot be linked
// or copied locally.
package httpstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/canonical/maas-images/pkg/storage"
)

// New creates a read-only store fetching keys relative to baseURL.
func New(baseURL string, client *http.Client) storage.Store {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type httpStore struct {
	baseURL string
	client  *http.Client
}

func (h *httpStore) url(key string) string {
	return h.baseURL + "/" + strings.TrimLeft(key, "/")
}

func (h *httpStore) Has(ctx context.Context, key string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url(key), nil)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("HEAD %s: %s", h.url(key), resp.Status)
	}
}

func (h *httpStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url(key), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, storage.ErrNotFound.WrapMsg("%s", h.url(key))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", h.url(key), resp.Status)
	}
	return resp.Body, nil
}

func (h *httpStore) Put(context.Context, string, io.Reader, bool) error {
	return fmt.Errorf("httpstore is read-only")
}

func (h *httpStore) Delete(context.Context, string) error {
	return fmt.Errorf("httpstore is read-only")
}

func (h *httpStore) Keys(context.Context) ([]string, error) {
	return nil, fmt.Errorf("httpstore cannot list keys")
}

func (h *httpStore) KeysPrefix(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("httpstore cannot list keys")
}

func (h *httpStore) String() string {
	return "http@" + h.baseURL
}
