// Package discordhook posts messages to a Discord webhook through discordgo's
// REST layer, which handles rate-limit buckets and retries.
package discordhook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

var ErrBadWebhookURL = errf("invalid discord webhook url")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Webhook identifies a Discord webhook.
type Webhook struct {
	ID    string
	Token string
}

// ParseURL accepts https://discord.com/api/webhooks/<id>/<token> and its
// versioned or discordapp.com variants.
func ParseURL(raw string) (Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrBadWebhookURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Webhook{}, fmt.Errorf("%w: scheme %q", ErrBadWebhookURL, u.Scheme)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p != "webhooks" {
			continue
		}
		if i+2 >= len(parts) {
			break
		}
		id, token := parts[i+1], parts[i+2]
		if id == "" || token == "" {
			break
		}
		return Webhook{ID: id, Token: token}, nil
	}
	return Webhook{}, fmt.Errorf("%w: no webhook id/token in path", ErrBadWebhookURL)
}

type Client struct {
	session  *discordgo.Session
	hook     Webhook
	endpoint string
}

type Option func(*Client)

// WithEndpoint overrides the URL messages are posted to.
func WithEndpoint(u string) Option {
	return func(c *Client) { c.endpoint = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.session.Client = hc }
}

func New(rawURL string, opts ...Option) (*Client, error) {
	hook, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: 15 * time.Second}
	s.MaxRestRetries = 2
	c := &Client{
		session:  s,
		hook:     hook,
		endpoint: discordgo.EndpointWebhookToken(hook.ID, hook.Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Webhook() Webhook { return c.hook }

// Send executes the webhook with params.
func (c *Client) Send(ctx context.Context, params *discordgo.WebhookParams) error {
	bucket := discordgo.EndpointWebhookToken(c.hook.ID, "")
	if _, err := c.session.RequestWithBucketID(http.MethodPost, c.endpoint, params, bucket, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord webhook %s: %w", c.hook.ID, err)
	}
	return nil
}
