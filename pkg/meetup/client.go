// Package meetup is a typed client for the downstream MeetupPlanner API,
// used by the gateway's aggregation endpoints. Plain proxied traffic does not
// go through here.
package meetup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type Speaker struct {
	SpeakerID    string `json:"speakerId"`
	FullName     string `json:"fullName"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Speakers lists all speakers, sorted by full name.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	var speakers []Speaker
	if err := c.getJSON(ctx, "/meetupplanner/speakers", &speakers); err != nil {
		return nil, err
	}
	sort.Slice(speakers, func(i, j int) bool {
		return speakers[i].FullName < speakers[j].FullName
	})
	return speakers, nil
}

type Counts struct {
	Meetups  int `json:"meetups"`
	Speakers int `json:"speakers"`
}

// Counts gathers the dashboard numbers with one concurrent fetch per
// collection; the first error wins and cancels nothing beyond ctx.
func (c *Client) Counts(ctx context.Context) (*Counts, error) {
	type result struct {
		path  string
		count int
		err   error
	}

	paths := []string{"/meetupplanner/meetups", "/meetupplanner/speakers"}
	results := make(chan result, len(paths))

	for _, p := range paths {
		go func(p string) {
			var items []json.RawMessage
			err := c.getJSON(ctx, p, &items)
			results <- result{path: p, count: len(items), err: err}
		}(p)
	}

	counts := &Counts{}
	for range paths {
		r := <-results
		if r.err != nil {
			return nil, fmt.Errorf("fetch %s: %w", r.path, r.err)
		}
		switch r.path {
		case "/meetupplanner/meetups":
			counts.Meetups = r.count
		case "/meetupplanner/speakers":
			counts.Speakers = r.count
		}
	}

	return counts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(target)
}
