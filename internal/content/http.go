package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProvider fetches items from the CMS read API:
//
//	GET {BaseURL}/content/{id}  ->  Item as JSON
//
// 404 maps to ErrNotFound.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	token   string
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration) (*HTTPProvider, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("content.base_url is required for the http provider")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("content.base_url: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{baseURL: base, token: token, client: &http.Client{Timeout: timeout}}, nil
}

func (p *HTTPProvider) GetContent(ctx context.Context, id string) (Item, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Item{}, ErrNotFound
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/content/"+url.PathEscape(id), http.NoBody)
	if err != nil {
		return Item{}, err
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("content fetch %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Item{}, ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Item{}, fmt.Errorf("content fetch %s: http %d", id, resp.StatusCode)
	}

	var it Item
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&it); err != nil {
		return Item{}, fmt.Errorf("content decode %s: %w", id, err)
	}
	if it.ID == "" {
		it.ID = id
	}
	return it, nil
}
