package httpds

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Source is one partition served over HTTP.
type Source struct {
	url    string
	client *Client
}

// NewSource returns a Source fetching url with client.
func NewSource(url string, client *Client) *Source {
	return &Source{url: url, client: client}
}

func (s *Source) Name() string { return s.url }

// Open issues the GET and returns the body. Any status other than 200 fails.
func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: status %s", s.url, resp.Status)
	}
	return resp.Body, nil
}
