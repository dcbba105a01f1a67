package spotify

import "time"

// Track is a playable playlist entry together with the moment it was added
// to the playlist it was read from.
type Track struct {
	ID      string
	URI     string
	Name    string
	Artist  string // Comma-separated artist names
	AddedAt time.Time
}
