package speedtest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultDialTimeout = 10 * time.Second

	userAgent = "mbpsmeter"
)

// Transport is the network side of the engine. Implementations must abort their
// in-flight operation when ctx is done.
type Transport interface {
	Ping(ctx context.Context) error
	// Download returns the payload stream and its size, or -1 if the size is unknown.
	Download(ctx context.Context) (io.ReadCloser, int64, error)
	// Upload sends size bytes read from body and discards the response.
	Upload(ctx context.Context, body io.Reader, size int64) error
}

// HTTPTransport talks to the download, upload and ping endpoints over HTTP.
type HTTPTransport struct {
	client      *http.Client
	downloadURL string
	uploadURL   string
	pingURL     string
	now         func() time.Time
}

// NewHTTPRoundTripper pins dialing to protocol ("tcp", "tcp4" or "tcp6").
func NewHTTPRoundTripper(protocol string, dialTimeout time.Duration) *http.Transport {
	// cf. https://go.googlesource.com/go/+/refs/tags/go1.22.1/src/net/http/transport.go#43
	// cf. https://go.googlesource.com/go/+/refs/tags/go1.22.1/src/net/http/transport.go#140
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, _, addr string) (net.Conn, error) {
			return (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext(ctx, protocol, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// compressed payloads would inflate the measured rate
		DisableCompression: true,
	}
}

func NewHTTPTransport(config Configuration, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Transport: NewHTTPRoundTripper("tcp", DefaultDialTimeout)}
	}
	return &HTTPTransport{
		client:      client,
		downloadURL: config.DownloadURL,
		uploadURL:   config.UploadURL,
		pingURL:     config.PingURL,
		now:         time.Now,
	}
}

// cacheBust appends a timestamp so intermediaries cannot answer from a cache.
func (t *HTTPTransport) cacheBust(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	query := u.Query()
	query.Set("t", strconv.FormatInt(t.now().UnixNano(), 10))
	u.RawQuery = query.Encode()
	return u.String()
}

func flushHTTPResponse(resp *http.Response) (int64, error) {
	flushedSize, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		resp.Body.Close()
		return 0, err
	}
	err = resp.Body.Close()
	if err != nil {
		return 0, err
	}

	return flushedSize, nil
}

func checkStatus(resp *http.Response, accepted ...int) error {
	for _, code := range accepted {
		if resp.StatusCode == code {
			return nil
		}
	}
	if len(accepted) == 0 && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.Errorf("unexpected status %q from %s", resp.Status, resp.Request.URL.Redacted())
}

func (t *HTTPTransport) Ping(ctx context.Context) error {
	method, target := http.MethodGet, t.pingURL
	if target == "" {
		method, target = http.MethodHead, t.downloadURL
	}

	req, err := http.NewRequestWithContext(ctx, method, t.cacheBust(target), nil)
	if err != nil {
		return errors.Wrap(err, "could not build ping request")
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	if _, err := flushHTTPResponse(resp); err != nil {
		return errors.Wrap(err, "could not read ping response")
	}
	return checkStatus(resp)
}

func (t *HTTPTransport) Download(ctx context.Context) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cacheBust(t.downloadURL), nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not build download request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if err := checkStatus(resp, http.StatusOK, http.StatusPartialContent); err != nil {
		flushHTTPResponse(resp)
		return nil, 0, err
	}

	return resp.Body, resp.ContentLength, nil
}

func (t *HTTPTransport) Upload(ctx context.Context, body io.Reader, size int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cacheBust(t.uploadURL), body)
	if err != nil {
		return errors.Wrap(err, "could not build upload request")
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	if _, err := flushHTTPResponse(resp); err != nil {
		return errors.Wrap(err, "could not read upload response")
	}
	return checkStatus(resp)
}
