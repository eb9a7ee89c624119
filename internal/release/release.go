// Package release queries the application's published release index and
// resolves version aliases to concrete tags. Resolution never falls back
// to a hardcoded default: an empty or unreachable index is a loud
// failure.
package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fennmark/watchpost/internal/logging"
)

// DefaultIndexURL is the release catalog of the deployed application.
const DefaultIndexURL = "https://api.github.com/repos/blakeblackshear/frigate/releases"

// ErrNoRelease reports that the index yielded no entry matching the
// requested alias.
var ErrNoRelease = errors.New("release index returned no matching release")

// Release is one published version. The index returns entries
// newest-first.
type Release struct {
	Tag        string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

// Version is the release tag with any leading version prefix stripped.
func (r Release) Version() string {
	return strings.TrimPrefix(r.Tag, "v")
}

// Client fetches and resolves releases.
type Client struct {
	Logger   *slog.Logger
	IndexURL string
	HTTP     *http.Client
}

func (c *Client) logger() *slog.Logger {
	return logging.Ensure(c.Logger)
}

func (c *Client) indexURL() string {
	if c.IndexURL != "" {
		return c.IndexURL
	}
	return DefaultIndexURL
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// List fetches the release index, newest-first.
func (c *Client) List(ctx context.Context) ([]Release, error) {
	url := c.indexURL()
	c.logger().Debug("fetching release index", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build release index request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch release index: unexpected status %s", resp.Status)
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decode release index: %w", err)
	}
	return releases, nil
}

// Latest resolves the newest stable release.
func (c *Client) Latest(ctx context.Context) (string, error) {
	return c.resolve(ctx, false)
}

// Beta resolves the newest prerelease.
func (c *Client) Beta(ctx context.Context) (string, error) {
	return c.resolve(ctx, true)
}

func (c *Client) resolve(ctx context.Context, prerelease bool) (string, error) {
	releases, err := c.List(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range releases {
		if r.Prerelease == prerelease {
			return r.Version(), nil
		}
	}
	return "", ErrNoRelease
}

// Recent returns up to n stable releases, newest first, for interactive
// selection.
func (c *Client) Recent(ctx context.Context, n int) ([]Release, error) {
	releases, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	stable := make([]Release, 0, n)
	for _, r := range releases {
		if r.Prerelease {
			continue
		}
		stable = append(stable, r)
		if len(stable) == n {
			break
		}
	}
	if len(stable) == 0 {
		return nil, ErrNoRelease
	}
	return stable, nil
}
