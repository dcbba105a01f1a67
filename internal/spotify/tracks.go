package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
)

// pageSize is the largest page the playlist items endpoint serves.
const pageSize = 100

// PlaylistTracks retrieves every track of a playlist in playlist order,
// following pagination cursors until the last page.
// Local files, episodes and unavailable tracks cannot be written back through
// the Web API; they are left out and counted in skipped.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string) (tracks []Track, skipped int, err error) {
	page, err := c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(pageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("fetching playlist %s: %w", playlistID, err)
	}

	for {
		for _, item := range page.Items {
			track, ok := convertItem(item)
			if !ok {
				skipped++
				continue
			}
			tracks = append(tracks, track)
		}

		err = c.api.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("fetching next page of playlist %s: %w", playlistID, err)
		}
	}

	return tracks, skipped, nil
}

// convertItem converts a playlist item to a Track.
// Returns false for items that are not writable tracks.
func convertItem(item spotify.PlaylistItem) (Track, bool) {
	full := item.Track.Track
	if item.IsLocal || full == nil || full.ID == "" {
		return Track{}, false
	}

	artists := make([]string, len(full.Artists))
	for i, a := range full.Artists {
		artists[i] = a.Name
	}

	// Parse AddedAt timestamp, use zero value on failure
	addedAt, _ := time.Parse(time.RFC3339, item.AddedAt)

	return Track{
		ID:      full.ID.String(),
		URI:     string(full.URI),
		Name:    full.Name,
		Artist:  strings.Join(artists, ", "),
		AddedAt: addedAt,
	}, true
}
