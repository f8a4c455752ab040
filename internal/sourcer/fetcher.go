package sourcer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// MaxSourceSize bounds the bytes read from any one campaign source.
const MaxSourceSize = 4 << 20

var (
	// ErrUnsupportedScheme is returned for URLs no fetcher is registered for.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
	// ErrSourceTooLarge is returned when a source exceeds MaxSourceSize.
	ErrSourceTooLarge = errors.New("source too large")
)

// Fetcher retrieves the raw bytes of a source along with an opaque state
// token. Two fetches that return the same state carry the same content.
type Fetcher interface {
	Fetch(url string) ([]byte, string, error)
}

// CompositeFetcher dispatches to a Fetcher by URL scheme.
type CompositeFetcher struct {
	fetchers map[string]Fetcher
}

// NewCompositeFetcher creates a CompositeFetcher with no schemes registered.
func NewCompositeFetcher() *CompositeFetcher {
	return &CompositeFetcher{
		fetchers: make(map[string]Fetcher),
	}
}

// AddFetcher registers fetcher for scheme, replacing any earlier one.
func (f *CompositeFetcher) AddFetcher(scheme string, fetcher Fetcher) {
	f.fetchers[scheme] = fetcher
}

func (f *CompositeFetcher) Fetch(rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}

	fetcher, ok := f.fetchers[u.Scheme]
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return fetcher.Fetch(rawURL)
}

// HTTPFetcher reads sources over http and https.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{
		client: client,
	}
}

// Fetch uses the response's ETag or Last-Modified header as the state, and
// falls back to a digest of the body when the server sends neither.
func (f *HTTPFetcher) Fetch(rawURL string) ([]byte, string, error) {
	resp, err := f.client.Get(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch %s: %s", rawURL, resp.Status)
	}

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", rawURL, err)
	}

	switch {
	case resp.Header.Get("ETag") != "":
		return body, resp.Header.Get("ETag"), nil
	case resp.Header.Get("Last-Modified") != "":
		return body, resp.Header.Get("Last-Modified"), nil
	default:
		return body, digest(body), nil
	}
}

// FileFetcher reads sources from the local filesystem. Both file:///abs/path
// and file://relative/path are accepted.
type FileFetcher struct{}

func NewFileFetcher() *FileFetcher {
	return &FileFetcher{}
}

func (f *FileFetcher) Fetch(rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse url %s: %w", rawURL, err)
	}

	path := u.Path
	if u.Host != "" {
		path = filepath.Join(u.Host, u.Path)
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer fh.Close()

	data, err := readLimited(fh)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, digest(data), nil
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxSourceSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSourceSize {
		return nil, ErrSourceTooLarge
	}
	return data, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
