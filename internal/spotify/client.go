// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"net/http"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// NewWithHTTPClient builds a Client on top of an authenticated HTTP client.
// An empty baseURL keeps the public Web API endpoint.
func NewWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	var opts []spotify.ClientOption
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}
	return New(spotify.New(httpClient, opts...))
}
