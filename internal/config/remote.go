package config

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

const maxServerInfoSize = 64 * 1024

// FetchServerInfo retrieves the Server document published at url, typically a
// server's /api/config endpoint.
func FetchServerInfo(ctx context.Context, client *http.Client, url string) (*Server, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build server config request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "could not fetch server config")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("server config endpoint answered %q", resp.Status)
	}

	info := &Server{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxServerInfoSize)).Decode(info); err != nil {
		return nil, errors.Wrap(err, "could not decode server config")
	}
	if info.URL == "" {
		return nil, errors.New("server config has no download url")
	}
	return info, nil
}
