package history

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/makotom/mbpsmeter/speedtest"
)

// Remote is a Store kept by a server's /history endpoint.
type Remote struct {
	client  *http.Client
	baseURL string
}

func NewRemote(baseURL string, client *http.Client) *Remote {
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (r *Remote) do(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("history endpoint answered %q", resp.Status)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "could not decode history response")
}

func (r *Remote) Save(ctx context.Context, result *speedtest.SpeedResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "could not encode result")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/history", bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "could not build history request")
	}
	req.Header.Set("Content-Type", "application/json")

	return errors.Wrap(r.do(req, nil), "could not upload result")
}

func (r *Remote) List(ctx context.Context, limit int, order Order) ([]*speedtest.SpeedResult, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if order == OldestFirst {
		query.Set("order", "asc")
	}

	target := r.baseURL + "/history"
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not build history request")
	}
	req.Header.Set("Accept", "application/json")

	results := []*speedtest.SpeedResult{}
	if err := r.do(req, &results); err != nil {
		return nil, errors.Wrap(err, "could not fetch history")
	}
	return results, nil
}

// ParseOrder maps "asc"/"oldest" and "desc"/"newest" (or "") onto an Order.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(s) {
	case "", "desc", "newest":
		return NewestFirst, nil
	case "asc", "oldest":
		return OldestFirst, nil
	default:
		return NewestFirst, errors.Errorf("unknown order %q", s)
	}
}
