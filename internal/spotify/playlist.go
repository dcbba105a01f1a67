package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/zmb3/spotify/v2"
)

// MaxTracksPerRequest is the most tracks a single playlist write may carry.
const MaxTracksPerRequest = 100

var (
	// ErrBatchTooLarge is returned when a write carries more than MaxTracksPerRequest tracks.
	ErrBatchTooLarge = fmt.Errorf("more than %d tracks in one request", MaxTracksPerRequest)

	// ErrInvalidPlaylist is returned when a playlist reference cannot be parsed.
	ErrInvalidPlaylist = errors.New("invalid playlist reference")
)

var playlistIDPattern = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// ReplacePlaylistTracks overwrites the playlist with the given tracks.
// An empty list clears the playlist.
func (c *Client) ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) > MaxTracksPerRequest {
		return ErrBatchTooLarge
	}

	if err := c.api.ReplacePlaylistTracks(ctx, spotify.ID(playlistID), toIDs(trackIDs)...); err != nil {
		return fmt.Errorf("replacing tracks of playlist %s: %w", playlistID, err)
	}
	return nil
}

// AddTracksToPlaylist appends the given tracks to the end of the playlist.
func (c *Client) AddTracksToPlaylist(ctx context.Context, playlistID string, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	if len(trackIDs) > MaxTracksPerRequest {
		return ErrBatchTooLarge
	}

	if _, err := c.api.AddTracksToPlaylist(ctx, spotify.ID(playlistID), toIDs(trackIDs)...); err != nil {
		return fmt.Errorf("adding tracks to playlist %s: %w", playlistID, err)
	}
	return nil
}

func toIDs(trackIDs []string) []spotify.ID {
	ids := make([]spotify.ID, len(trackIDs))
	for i, id := range trackIDs {
		ids[i] = spotify.ID(id)
	}
	return ids
}

// ParsePlaylistID extracts a playlist ID from a bare ID, a spotify:playlist: URI
// or an open.spotify.com playlist URL.
func ParsePlaylistID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	var id string
	switch {
	case strings.HasPrefix(ref, "spotify:playlist:"):
		id = strings.TrimPrefix(ref, "spotify:playlist:")
	case strings.Contains(ref, "://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrInvalidPlaylist, ref, err)
		}
		if u.Host != "open.spotify.com" {
			return "", fmt.Errorf("%w: %q is not an open.spotify.com URL", ErrInvalidPlaylist, ref)
		}
		// Handles both /playlist/<id> and localized /intl-xx/playlist/<id> paths
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i := 0; i < len(parts)-1; i++ {
			if parts[i] == "playlist" {
				id = parts[i+1]
				break
			}
		}
	default:
		id = ref
	}

	if !playlistIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPlaylist, ref)
	}
	return id, nil
}
