// Package confsource fetches the subscription document from wherever
// CCRL_CONFIG_URL points: http(s)://, s3://bucket/key or file://.
package confsource

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/park285/ccrl-live-notifier/internal/httpfast"
	"github.com/park285/ccrl-live-notifier/internal/notifyrule"
)

var ErrUnsupportedScheme = errf("unsupported config url scheme")

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Source returns the raw config document.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

type HTTPSource struct {
	url  string
	http *httpfast.Client
}

func NewHTTPSource(u string, hc *httpfast.Client) *HTTPSource {
	return &HTTPSource{url: u, http: hc}
}

// Fetch does not follow redirects; a redirect is an error.
func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	_, body, err := s.http.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	return body, nil
}

func (s *HTTPSource) String() string { return s.url }

type FileSource struct{ path string }

func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (s *FileSource) Fetch(context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return b, nil
}

func (s *FileSource) String() string { return "file://" + s.path }

// Open picks a Source for raw. The S3 client is created lazily from the
// default AWS credential chain.
func Open(ctx context.Context, raw string, hc *httpfast.Client) (Source, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse config url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return NewHTTPSource(raw, hc), nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return nil, fmt.Errorf("%w: s3 url needs bucket and key: %s", ErrUnsupportedScheme, raw)
		}
		api, err := newS3API(ctx)
		if err != nil {
			return nil, err
		}
		return NewS3Source(api, u.Host, key), nil
	case "file":
		path := u.Path
		if u.Host != "" {
			path = u.Host + u.Path
		}
		return NewFileSource(path), nil
	case "":
		if raw != "" {
			return NewFileSource(raw), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
}

// Loader fetches and parses the config on every call.
type Loader struct {
	src Source
}

func NewLoader(src Source) *Loader { return &Loader{src: src} }

func (l *Loader) Load(ctx context.Context) (*notifyrule.NotifyConfig, error) {
	raw, err := l.src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := notifyrule.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.src, err)
	}
	return cfg, nil
}
