package spotify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-reverse-sync/internal/spotify/spotifytest"
)

func newTestClient(t *testing.T, srv *spotifytest.Server) *Client {
	t.Helper()
	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: "test-access-token",
		TokenType:   "Bearer",
	}))
	return NewWithHTTPClient(httpClient, srv.APIURL())
}

func TestConvertItem(t *testing.T) {
	tests := []struct {
		name         string
		item         spotify.PlaylistItem
		wantOK       bool
		expectedID   string
		expectedArt  string
		expectedTime time.Time
	}{
		{
			name: "regular track",
			item: spotify.PlaylistItem{
				AddedAt: "2024-01-15T10:30:00Z",
				Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{
					SimpleTrack: spotify.SimpleTrack{
						ID:      "track123",
						URI:     "spotify:track:track123",
						Name:    "Test Song",
						Artists: []spotify.SimpleArtist{{Name: "Artist A"}, {Name: "Artist B"}},
					},
				}},
			},
			wantOK:       true,
			expectedID:   "track123",
			expectedArt:  "Artist A, Artist B",
			expectedTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "invalid timestamp uses zero value",
			item: spotify.PlaylistItem{
				AddedAt: "yesterday",
				Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{
					SimpleTrack: spotify.SimpleTrack{ID: "track789", Name: "Old Song"},
				}},
			},
			wantOK:       true,
			expectedID:   "track789",
			expectedTime: time.Time{},
		},
		{
			name: "local file is skipped",
			item: spotify.PlaylistItem{
				AddedAt: "2024-01-15T10:30:00Z",
				IsLocal: true,
				Track: spotify.PlaylistItemTrack{Track: &spotify.FullTrack{
					SimpleTrack: spotify.SimpleTrack{Name: "My Demo"},
				}},
			},
			wantOK: false,
		},
		{
			name: "episode is skipped",
			item: spotify.PlaylistItem{
				AddedAt: "2024-01-15T10:30:00Z",
				Track:   spotify.PlaylistItemTrack{Episode: &spotify.EpisodePage{}},
			},
			wantOK: false,
		},
		{
			name: "missing track is skipped",
			item: spotify.PlaylistItem{AddedAt: "2024-01-15T10:30:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := convertItem(tt.item)
			if ok != tt.wantOK {
				t.Fatalf("convertItem() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.ID != tt.expectedID {
				t.Errorf("ID = %q, want %q", got.ID, tt.expectedID)
			}
			if got.Artist != tt.expectedArt {
				t.Errorf("Artist = %q, want %q", got.Artist, tt.expectedArt)
			}
			if !got.AddedAt.Equal(tt.expectedTime) {
				t.Errorf("AddedAt = %v, want %v", got.AddedAt, tt.expectedTime)
			}
		})
	}
}

func TestParsePlaylistID(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{"bare id", "37i9dQZF1DXcBWIGoYBM5M", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"bare id with spaces", "  37i9dQZF1DXcBWIGoYBM5M\n", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"uri", "spotify:playlist:37i9dQZF1DXcBWIGoYBM5M", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"url", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"url with query", "https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M?si=abc123", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"localized url", "https://open.spotify.com/intl-de/playlist/37i9dQZF1DXcBWIGoYBM5M", "37i9dQZF1DXcBWIGoYBM5M", false},
		{"other host", "https://example.com/playlist/37i9dQZF1DXcBWIGoYBM5M", "", true},
		{"album url", "https://open.spotify.com/album/37i9dQZF1DXcBWIGoYBM5M", "", true},
		{"track uri", "spotify:track:37i9dQZF1DXcBWIGoYBM5M", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlaylistID(tt.ref)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPlaylist) {
					t.Errorf("ParsePlaylistID(%q) error = %v, want ErrInvalidPlaylist", tt.ref, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlaylistID(%q) error = %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("ParsePlaylistID(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestPlaylistTracks_Pagination(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]spotifytest.Item, 250)
	for i := range items {
		items[i] = spotifytest.Item{ID: fmt.Sprintf("t%03d", i), AddedAt: base.Add(time.Duration(i) * time.Minute)}
	}
	srv.SetPlaylist("source", items)

	tracks, skipped, err := newTestClient(t, srv).PlaylistTracks(context.Background(), "source")
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(tracks) != 250 {
		t.Fatalf("got %d tracks, want 250", len(tracks))
	}

	seen := make(map[string]bool, len(tracks))
	for i, tr := range tracks {
		if tr.ID != items[i].ID {
			t.Errorf("tracks[%d].ID = %q, want %q", i, tr.ID, items[i].ID)
		}
		if !tr.AddedAt.Equal(items[i].AddedAt) {
			t.Errorf("tracks[%d].AddedAt = %v, want %v", i, tr.AddedAt, items[i].AddedAt)
		}
		if seen[tr.ID] {
			t.Errorf("track %q fetched twice", tr.ID)
		}
		seen[tr.ID] = true
	}
}

func TestPlaylistTracks_SmallPages(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()
	srv.SetMaxPageSize(7)

	items := make([]spotifytest.Item, 30)
	for i := range items {
		items[i] = spotifytest.Item{ID: fmt.Sprintf("t%02d", i), AddedAt: time.Now()}
	}
	srv.SetPlaylist("source", items)

	tracks, _, err := newTestClient(t, srv).PlaylistTracks(context.Background(), "source")
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if len(tracks) != 30 {
		t.Errorf("got %d tracks, want 30", len(tracks))
	}
}

func TestPlaylistTracks_SkipsUnwritableItems(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()

	now := time.Now()
	srv.SetPlaylist("source", []spotifytest.Item{
		{ID: "a", AddedAt: now},
		{ID: "demo.mp3", AddedAt: now, Local: true},
		{ID: "ep1", AddedAt: now, Episode: true},
		{ID: "b", AddedAt: now},
	})

	tracks, skipped, err := newTestClient(t, srv).PlaylistTracks(context.Background(), "source")
	if err != nil {
		t.Fatalf("PlaylistTracks() error = %v", err)
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if len(tracks) != 2 || tracks[0].ID != "a" || tracks[1].ID != "b" {
		t.Errorf("tracks = %+v, want [a b]", tracks)
	}
}

func TestPlaylistTracks_Errors(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()

	client := newTestClient(t, srv)

	if _, _, err := client.PlaylistTracks(context.Background(), "missing"); err == nil {
		t.Error("PlaylistTracks() on unknown playlist should return error")
	}

	srv.SetPlaylist("source", []spotifytest.Item{{ID: "a"}})
	srv.FailReads(true)
	_, _, err := client.PlaylistTracks(context.Background(), "source")
	var apiErr spotify.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("PlaylistTracks() error = %v, want spotify.Error", err)
	}
	if apiErr.Status != 502 {
		t.Errorf("status = %d, want 502", apiErr.Status)
	}
}

func TestReplaceAndAddTracks(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()
	srv.SetPlaylist("dest", []spotifytest.Item{{ID: "old"}})

	client := newTestClient(t, srv)
	ctx := context.Background()

	if err := client.ReplacePlaylistTracks(ctx, "dest", []string{"a", "b"}); err != nil {
		t.Fatalf("ReplacePlaylistTracks() error = %v", err)
	}
	if err := client.AddTracksToPlaylist(ctx, "dest", []string{"c"}); err != nil {
		t.Fatalf("AddTracksToPlaylist() error = %v", err)
	}
	if err := client.AddTracksToPlaylist(ctx, "dest", nil); err != nil {
		t.Fatalf("AddTracksToPlaylist(nil) error = %v", err)
	}

	got := srv.Playlist("dest")
	want := []string{"a", "b", "c"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("playlist = %v, want %v", got, want)
	}

	writes := srv.Writes()
	if len(writes) != 2 {
		t.Fatalf("got %d writes, want 2 (empty add must not hit the API)", len(writes))
	}
	if writes[0].Method != "PUT" || writes[1].Method != "POST" {
		t.Errorf("methods = %s, %s; want PUT, POST", writes[0].Method, writes[1].Method)
	}
}

func TestReplacePlaylistTracks_Clear(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()
	srv.SetPlaylist("dest", []spotifytest.Item{{ID: "old1"}, {ID: "old2"}})

	if err := newTestClient(t, srv).ReplacePlaylistTracks(context.Background(), "dest", nil); err != nil {
		t.Fatalf("ReplacePlaylistTracks(nil) error = %v", err)
	}
	if got := srv.Playlist("dest"); len(got) != 0 {
		t.Errorf("playlist = %v, want empty", got)
	}
}

func TestWrites_BatchTooLarge(t *testing.T) {
	client := &Client{}
	ids := make([]string, MaxTracksPerRequest+1)

	if err := client.ReplacePlaylistTracks(context.Background(), "dest", ids); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("ReplacePlaylistTracks() error = %v, want ErrBatchTooLarge", err)
	}
	if err := client.AddTracksToPlaylist(context.Background(), "dest", ids); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("AddTracksToPlaylist() error = %v, want ErrBatchTooLarge", err)
	}
}
