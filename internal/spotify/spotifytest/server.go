// Package spotifytest provides an in-memory fake of the Spotify accounts and
// playlist endpoints for tests.
package spotifytest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Default credentials accepted by the fake token endpoint.
const (
	ClientID     = "test-client-id"
	ClientSecret = "test-client-secret"
	RefreshToken = "test-refresh-token"
)

// Item is a playlist entry held by the fake.
type Item struct {
	ID      string
	AddedAt time.Time
	Local   bool
	Episode bool
}

// Write records one playlist write request.
type Write struct {
	Method   string // PUT replaces, POST appends
	Playlist string
	IDs      []string
}

// Server is a fake Spotify API backed by httptest.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	playlists     map[string][]Item
	writes        []Write
	tokenRequests int
	maxPageSize   int
	failWriteIn   int // fail the n-th write from now; 0 disables
	failReads     bool
	refreshToken  string
	rotateTo      string
}

// NewServer starts a fake server. Close it when done.
func NewServer() *Server {
	s := &Server{
		playlists:    make(map[string][]Item),
		maxPageSize:  100,
		refreshToken: RefreshToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.HandleFunc("GET /v1/playlists/{id}/tracks", s.handleGetTracks)
	mux.HandleFunc("PUT /v1/playlists/{id}/tracks", s.handleWrite)
	mux.HandleFunc("POST /v1/playlists/{id}/tracks", s.handleWrite)

	s.Server = httptest.NewServer(mux)
	return s
}

// APIURL is the base URL to hand to the Web API client.
func (s *Server) APIURL() string { return s.URL + "/v1/" }

// TokenURL is the refresh-token grant endpoint.
func (s *Server) TokenURL() string { return s.URL + "/api/token" }

// SetPlaylist replaces the contents of a playlist.
func (s *Server) SetPlaylist(id string, items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[id] = slices.Clone(items)
}

// Playlist returns the item IDs of a playlist in order.
func (s *Server) Playlist(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.playlists[id]))
	for i, it := range s.playlists[id] {
		ids[i] = it.ID
	}
	return ids
}

// Writes returns every write request received so far.
func (s *Server) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.writes)
}

// ResetWrites forgets recorded writes.
func (s *Server) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// TokenRequests returns how many token grants were attempted.
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// SetMaxPageSize caps the page size served regardless of the requested limit.
func (s *Server) SetMaxPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxPageSize = n
}

// FailWrite makes the n-th write request from now fail once with a 500.
func (s *Server) FailWrite(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWriteIn = n
}

// FailReads makes every playlist read fail with a 502 while set.
func (s *Server) FailReads(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = fail
}

// RevokeRefreshToken makes the token endpoint reject the current refresh token.
func (s *Server) RevokeRefreshToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = ""
}

// RotateRefreshToken makes the next grant return a new refresh token, which
// becomes the only accepted one afterwards.
func (s *Server) RotateRefreshToken(next string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotateTo = next
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenRequests++

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	if id != ClientID || secret != ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	if r.PostFormValue("grant_type") != "refresh_token" ||
		s.refreshToken == "" || r.PostFormValue("refresh_token") != s.refreshToken {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Refresh token revoked",
		})
		return
	}

	resp := map[string]any{
		"access_token": fmt.Sprintf("access-%d", s.tokenRequests),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        "playlist-read-private playlist-modify-private playlist-modify-public",
	}
	if s.rotateTo != "" {
		resp["refresh_token"] = s.rotateTo
		s.refreshToken = s.rotateTo
		s.rotateTo = ""
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetTracks(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, "No token provided")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failReads {
		writeAPIError(w, http.StatusBadGateway, "Bad gateway")
		return
	}

	id := r.PathValue("id")
	items, ok := s.playlists[id]
	if !ok {
		writeAPIError(w, http.StatusNotFound, "Resource not found")
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	limit = min(limit, s.maxPageSize)
	end := min(offset+limit, len(items))
	if offset > end {
		offset = end
	}

	pageItems := make([]map[string]any, 0, end-offset)
	for _, it := range items[offset:end] {
		pageItems = append(pageItems, itemJSON(it))
	}

	href := fmt.Sprintf("%s/v1/playlists/%s/tracks", s.URL, id)
	page := map[string]any{
		"href":     fmt.Sprintf("%s?offset=%d&limit=%d", href, offset, limit),
		"items":    pageItems,
		"limit":    limit,
		"offset":   offset,
		"total":    len(items),
		"next":     nil,
		"previous": nil,
	}
	if end < len(items) {
		page["next"] = fmt.Sprintf("%s?offset=%d&limit=%d", href, end, limit)
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if !authorized(r) {
		writeAPIError(w, http.StatusUnauthorized, "No token provided")
		return
	}

	uris, err := requestURIs(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWriteIn > 0 {
		s.failWriteIn--
		if s.failWriteIn == 0 {
			writeAPIError(w, http.StatusInternalServerError, "Server error")
			return
		}
	}

	id := r.PathValue("id")
	ids := make([]string, 0, len(uris))
	items := make([]Item, 0, len(uris))
	now := time.Now().UTC()
	for _, u := range uris {
		trackID := strings.TrimPrefix(u, "spotify:track:")
		ids = append(ids, trackID)
		items = append(items, Item{ID: trackID, AddedAt: now})
	}

	s.writes = append(s.writes, Write{Method: r.Method, Playlist: id, IDs: ids})
	if r.Method == http.MethodPut {
		s.playlists[id] = items
	} else {
		s.playlists[id] = append(s.playlists[id], items...)
	}

	writeJSON(w, http.StatusCreated, map[string]string{"snapshot_id": fmt.Sprintf("snapshot-%d", len(s.writes))})
}

// requestURIs reads track URIs from the uris query parameter or the JSON body.
func requestURIs(r *http.Request) ([]string, error) {
	var uris []string
	if q := r.URL.Query().Get("uris"); q != "" {
		uris = append(uris, strings.Split(q, ",")...)
	}

	var body struct {
		URIs []string `json:"uris"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding body: %w", err)
		}
	}
	uris = append(uris, body.URIs...)

	if len(uris) > 100 {
		return nil, fmt.Errorf("too many uris: %d", len(uris))
	}
	return uris, nil
}

func itemJSON(it Item) map[string]any {
	var track map[string]any
	switch {
	case it.Local:
		track = map[string]any{
			"type":    "track",
			"id":      nil,
			"uri":     "spotify:local:" + it.ID,
			"name":    it.ID,
			"artists": []map[string]any{},
		}
	case it.Episode:
		track = map[string]any{
			"type": "episode",
			"id":   it.ID,
			"uri":  "spotify:episode:" + it.ID,
			"name": "Episode " + it.ID,
		}
	default:
		track = map[string]any{
			"type":    "track",
			"id":      it.ID,
			"uri":     "spotify:track:" + it.ID,
			"name":    "Track " + it.ID,
			"artists": []map[string]any{{"name": "Artist " + it.ID}},
		}
	}

	return map[string]any{
		"added_at": it.AddedAt.UTC().Format(time.RFC3339),
		"is_local": it.Local,
		"track":    track,
	}
}

func authorized(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"status": status, "message": msg},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
