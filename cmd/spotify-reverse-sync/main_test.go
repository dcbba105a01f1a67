package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/justestif/go-spotify-reverse-sync/internal/auth"
	"github.com/justestif/go-spotify-reverse-sync/internal/config"
	"github.com/justestif/go-spotify-reverse-sync/internal/spotify/spotifytest"
	"github.com/justestif/go-spotify-reverse-sync/internal/sync"
)

func setTestEnv(t *testing.T, srv *spotifytest.Server) {
	t.Helper()
	env := map[string]string{
		"CLIENT_ID":         spotifytest.ClientID,
		"CLIENT_SECRET":     spotifytest.ClientSecret,
		"REFRESH_TOKEN":     spotifytest.RefreshToken,
		"FROM":              "spotify:playlist:sourceplaylist",
		"TO":                "https://open.spotify.com/playlist/destplaylist",
		"WRITE_INTERVAL":    "0s",
		"LOG_LEVEL":         "error",
		"SPOTIFY_API_URL":   srv.APIURL(),
		"SPOTIFY_TOKEN_URL": srv.TokenURL(),
		"DATABASE_URL":      "",
		"STATUS_ADDR":       "",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	srv.SetPlaylist("destplaylist", nil)
}

func TestOnce(t *testing.T) {
	srv := spotifytest.NewServer()
	defer srv.Close()
	setTestEnv(t, srv)

	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	items := make([]spotifytest.Item, 150)
	want := make([]string, len(items))
	for i := range items {
		items[i] = spotifytest.Item{ID: fmt.Sprintf("t%03d", i), AddedAt: base.Add(time.Duration(i) * time.Minute)}
		want[len(items)-1-i] = items[i].ID
	}
	srv.SetPlaylist("sourceplaylist", items)

	err := newCommand().Run(context.Background(), []string{"spotify-reverse-sync", "--env-file", "", "once"})
	if err != nil {
		t.Fatalf("once error = %v", err)
	}

	if got := srv.Playlist("destplaylist"); !slices.Equal(got, want) {
		t.Error("destination is not the source newest first")
	}
	if n := len(srv.Writes()); n != 2 {
		t.Errorf("writes = %d, want 2 batches", n)
	}
}

func TestOnce_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, srv *spotifytest.Server)
		check func(t *testing.T, err error)
	}{
		{
			name: "missing configuration",
			setup: func(t *testing.T, _ *spotifytest.Server) {
				t.Setenv("CLIENT_ID", "")
			},
			check: func(t *testing.T, err error) {
				var cfgErr *config.Error
				if !errors.As(err, &cfgErr) {
					t.Errorf("error = %v, want *config.Error", err)
				}
			},
		},
		{
			name: "revoked refresh token",
			setup: func(_ *testing.T, srv *spotifytest.Server) {
				srv.RevokeRefreshToken()
			},
			check: func(t *testing.T, err error) {
				var authErr *auth.Error
				if !errors.As(err, &authErr) {
					t.Errorf("error = %v, want *auth.Error", err)
				}
			},
		},
		{
			name: "write failure",
			setup: func(_ *testing.T, srv *spotifytest.Server) {
				srv.SetPlaylist("sourceplaylist", []spotifytest.Item{{ID: "a", AddedAt: time.Now()}})
				srv.FailWrite(1)
			},
			check: func(t *testing.T, err error) {
				var syncErr *sync.Error
				if !errors.As(err, &syncErr) {
					t.Fatalf("error = %v, want *sync.Error", err)
				}
				if syncErr.Stage != sync.StageWriting || syncErr.Batch != 1 {
					t.Errorf("error = %v, want a failure writing batch 1", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := spotifytest.NewServer()
			defer srv.Close()
			setTestEnv(t, srv)
			tt.setup(t, srv)

			err := newCommand().Run(context.Background(), []string{"spotify-reverse-sync", "--env-file", "", "once"})
			if err == nil {
				t.Fatal("once error = nil, want failure")
			}
			tt.check(t, err)
		})
	}
}
