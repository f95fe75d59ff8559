// Package ccrllive fetches the current PGN of CCRL live broadcast rooms.
package ccrllive

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/park285/ccrl-live-notifier/internal/httpfast"
)

const DefaultBaseURL = "https://ccrl.live"

type getter interface {
	Get(ctx context.Context, url string) (int, []byte, error)
}

type Client struct {
	baseURL string
	http    getter
}

func NewClient(baseURL string, hc *httpfast.Client) *Client {
	return newClient(baseURL, hc)
}

func newClient(baseURL string, g getter) *Client {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, http: g}
}

// RoomURL is the page viewers open to watch room.
func (c *Client) RoomURL(room string) string {
	return c.baseURL + "/" + strings.TrimSpace(room)
}

func (c *Client) pgnURL(room string) string {
	return c.RoomURL(room) + "/pgn"
}

// FetchPGN returns the room's current document. ok is false when the room has
// no active broadcast: the server answered 204, 404 or a redirect.
func (c *Client) FetchPGN(ctx context.Context, room string) (string, bool, error) {
	status, body, err := c.http.Get(ctx, c.pgnURL(room))
	if httpfast.IsStatus(err, fasthttp.StatusNotFound) || (err != nil && status >= 300 && status < 400) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if status != fasthttp.StatusOK || len(body) == 0 {
		return "", false, nil
	}
	return string(body), true, nil
}
