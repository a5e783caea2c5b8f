package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/monitor"
)

// statusClient reads the admin surface of one monitor node
type statusClient struct {
	base   string
	http   *http.Client
	filter []string
}

func newStatusClient(base string, filter []string) *statusClient {
	return &statusClient{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 5 * time.Second},
		filter: filter,
	}
}

type snapshot struct {
	node     monitor.WorkStatus
	services map[string][]monitor.InstanceHealth
	fetched  time.Time
}

func (c *statusClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *statusClient) fetch(ctx context.Context) (snapshot, error) {
	var snap snapshot
	if err := c.getJSON(ctx, "/status/node", nil, &snap.node); err != nil {
		return snap, err
	}

	q := url.Values{}
	for _, name := range c.filter {
		q.Add("service", name)
	}
	if err := c.getJSON(ctx, "/status", q, &snap.services); err != nil {
		return snap, err
	}
	snap.fetched = time.Now()
	return snap, nil
}
