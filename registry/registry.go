package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/ernesto27/npm-bazel/logging"
	"github.com/ernesto27/npm-bazel/packagejson"
	"github.com/ernesto27/npm-bazel/version"
)

const DefaultURL = "https://registry.npmjs.org/"

var (
	ErrNotFound = errors.New("package not found")
	ErrNetwork  = errors.New("registry request failed")
)

// Dist is where a published version's tarball lives.
type Dist struct {
	Tarball   string
	Integrity string
	Shasum    string
}

// Client reads package documents from an npm registry. Each document is
// fetched once per client; concurrent requests for the same package share
// a single HTTP call.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
	delay    time.Duration

	group singleflight.Group
	mu    sync.Mutex
	docs  map[string][]byte
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRetry sets how many times transient failures are attempted and the
// first backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	c := &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 60 * time.Second},
		attempts: 3,
		delay:    time.Second,
		docs:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the registry root, always ending in a slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TarballURL builds the conventional tarball location of name@ver.
func TarballURL(baseURL, name, ver string) string {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return fmt.Sprintf("%s%s/-/%s-%s.tgz", baseURL, name, path.Base(name), ver)
}

func (c *Client) document(ctx context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	doc, ok := c.docs[name]
	c.mu.Unlock()
	if ok {
		return doc, nil
	}

	v, err, _ := c.group.Do(name, func() (any, error) {
		var body []byte
		err := Retry(ctx, c.attempts, c.delay, func() error {
			var ferr error
			body, ferr = c.fetch(ctx, name)
			return ferr
		})
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: invalid document for %s", ErrNetwork, name)
		}
		c.mu.Lock()
		c.docs[name] = body
		c.mu.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) fetch(ctx context.Context, name string) ([]byte, error) {
	url := c.baseURL + strings.Replace(name, "/", "%2f", 1)
	logging.FromContext(ctx).Debug("fetching package document", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode >= 500:
		return nil, &RetryableError{Err: fmt.Errorf("%w: %s: status %d", ErrNetwork, name, resp.StatusCode)}
	default:
		return nil, fmt.Errorf("%w: %s: status %d", ErrNetwork, name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RetryableError{Err: fmt.Errorf("%w: reading %s: %v", ErrNetwork, name, err)}
	}
	return body, nil
}

// Catalog lists the published versions and dist-tags of name.
func (c *Client) Catalog(ctx context.Context, name string) (*version.Catalog, error) {
	doc, err := c.document(ctx, name)
	if err != nil {
		return nil, err
	}

	catalog := &version.Catalog{Name: name, DistTags: make(map[string]string)}
	parsed := gjson.ParseBytes(doc)
	parsed.Get("versions").ForEach(func(key, _ gjson.Result) bool {
		catalog.Versions = append(catalog.Versions, key.String())
		return true
	})
	parsed.Get("dist-tags").ForEach(func(key, value gjson.Result) bool {
		catalog.DistTags[key.String()] = value.String()
		return true
	})
	return catalog, nil
}

func (c *Client) versionDoc(ctx context.Context, name, ver string) (gjson.Result, error) {
	doc, err := c.document(ctx, name)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.GetBytes(doc, "versions."+escapeKey(ver))
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s@%s", ErrNotFound, name, ver)
	}
	return res, nil
}

// Manifest returns the package.json published for name@ver.
func (c *Client) Manifest(ctx context.Context, name, ver string) (*packagejson.PackageJSON, error) {
	res, err := c.versionDoc(ctx, name, ver)
	if err != nil {
		return nil, err
	}
	return packagejson.ParseBytes([]byte(res.Raw), name+"@"+ver)
}

// Dist returns the tarball location and checksums of name@ver. Documents
// without a tarball URL fall back to the conventional path.
func (c *Client) Dist(ctx context.Context, name, ver string) (Dist, error) {
	res, err := c.versionDoc(ctx, name, ver)
	if err != nil {
		return Dist{}, err
	}
	d := Dist{
		Tarball:   res.Get("dist.tarball").String(),
		Integrity: res.Get("dist.integrity").String(),
		Shasum:    res.Get("dist.shasum").String(),
	}
	if d.Tarball == "" {
		d.Tarball = TarballURL(c.baseURL, name, ver)
	}
	return d, nil
}

func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
