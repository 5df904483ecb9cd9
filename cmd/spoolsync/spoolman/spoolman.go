package spoolman

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/patrickmn/go-cache"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/spoolsync/spoolsync/internal"
	"go.uber.org/zap"
)

const spoolsCacheKey = "spools"

// Client reads the spool inventory from a spoolman instance. Responses are
// cached for a few seconds, the listing page should not hammer spoolman when
// someone keeps refreshing it.
type Client struct {
	url      string
	memCache *cache.Cache
}

func NewClient(url string) *Client {
	return &Client{
		url:      strings.TrimSuffix(url, "/"),
		memCache: cache.New(10*time.Second, 20*time.Second),
	}
}

// GetSpools returns all spools known to spoolman.
func (c *Client) GetSpools() ([]shared.Spool, error) {
	if cached, found := c.memCache.Get(spoolsCacheKey); found {
		zap.S().Debugf("Returning spool list from cache")
		return cached.([]shared.Spool), nil
	}

	client := internal.GetHTTPClient(c.url, internal.TenSeconds)
	resp, err := client.Get(c.url + "/api/v1/spool")
	if err != nil {
		return nil, fmt.Errorf("request to spoolman failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request to spoolman failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read spoolman response: %w", err)
	}

	var spools []shared.Spool
	if err := json.Unmarshal(body, &spools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spoolman response: %w", err)
	}

	c.memCache.SetDefault(spoolsCacheKey, spools)
	return spools, nil
}
