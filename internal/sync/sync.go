// Package sync mirrors a source playlist into a destination playlist,
// newest additions first.
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/justestif/go-spotify-reverse-sync/internal/spotify"
)

// DefaultWriteInterval is the minimum spacing between two playlist writes.
const DefaultWriteInterval = 100 * time.Millisecond

// ErrInvalidBatchSize is returned by New when the batch size is out of range.
var ErrInvalidBatchSize = fmt.Errorf("batch size must be between 1 and %d", spotify.MaxTracksPerRequest)

// PlaylistClient is the subset of the Spotify API the synchronizer needs.
type PlaylistClient interface {
	PlaylistTracks(ctx context.Context, playlistID string) ([]spotify.Track, int, error)
	ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	AddTracksToPlaylist(ctx context.Context, playlistID string, trackIDs []string) error
}

// Synchronizer replaces the destination playlist with the source playlist
// sorted by descending add date.
type Synchronizer struct {
	source           string
	destination      string
	batchSize        int
	writeInterval    time.Duration
	fetchDestination bool
	onStage          func(Stage)
	logger           *zap.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithBatchSize sets how many tracks go into one write request.
func WithBatchSize(n int) Option {
	return func(s *Synchronizer) {
		s.batchSize = n
	}
}

// WithWriteInterval sets the minimum time between writes. Zero disables pacing.
func WithWriteInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		s.writeInterval = d
	}
}

// WithoutDestinationFetch skips reading the destination before replacing it.
func WithoutDestinationFetch() Option {
	return func(s *Synchronizer) {
		s.fetchDestination = false
	}
}

// WithStageHook registers a function called on every stage transition.
// Calls never overlap, but they may come from a goroutine started by Sync.
func WithStageHook(fn func(Stage)) Option {
	return func(s *Synchronizer) {
		s.onStage = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// New creates a Synchronizer for the given pair of playlist IDs.
func New(source, destination string, opts ...Option) (*Synchronizer, error) {
	s := &Synchronizer{
		source:           source,
		destination:      destination,
		batchSize:        spotify.MaxTracksPerRequest,
		writeInterval:    DefaultWriteInterval,
		fetchDestination: true,
		onStage:          func(Stage) {},
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.batchSize < 1 || s.batchSize > spotify.MaxTracksPerRequest {
		return nil, ErrInvalidBatchSize
	}
	if source == "" || destination == "" {
		return nil, errors.New("source and destination playlists are required")
	}
	return s, nil
}

// Result contains the outcome of one synchronization.
type Result struct {
	SourceTracks   int // Writable tracks found in the source
	Skipped        int // Source items that cannot be written (local files, episodes)
	PreviousTracks int // Destination size before the write; -1 if not read
	Written        int
	Batches        int
	Duration       time.Duration
}

// Sync performs fetch, sort and write against the given client.
// Any source fetch or write failure aborts the remaining steps and is returned
// as *Error. A failure while writing can leave the destination partially
// replaced; the returned Result then counts what was written, and the next
// successful Sync converges the destination again.
func (s *Synchronizer) Sync(ctx context.Context, client PlaylistClient) (*Result, error) {
	start := time.Now()
	defer s.onStage(StageIdle)

	result := &Result{PreviousTracks: -1}

	tracks, err := s.fetch(ctx, client, result)
	if err != nil {
		return nil, err
	}

	s.onStage(StageSorting)
	sorted := SortNewestFirst(tracks)

	ids := make([]string, len(sorted))
	for i, t := range sorted {
		ids[i] = t.ID
	}

	s.logger.Info("Replacing destination playlist",
		zap.String("destination", s.destination),
		zap.Int("tracks", len(ids)),
		zap.Int("previous_tracks", result.PreviousTracks))

	result.Batches, result.Written, err = s.write(ctx, client, ids)
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	s.logger.Info("Destination playlist replaced",
		zap.String("destination", s.destination),
		zap.Int("written", result.Written),
		zap.Int("batches", result.Batches),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// fetch reads the source and, unless disabled, the destination concurrently.
// The destination is only read for reporting, so a failure there is logged
// and leaves PreviousTracks at -1.
func (s *Synchronizer) fetch(ctx context.Context, client PlaylistClient, result *Result) ([]spotify.Track, error) {
	g, gctx := errgroup.WithContext(ctx)

	if s.fetchDestination {
		g.Go(func() error {
			current, _, err := client.PlaylistTracks(gctx, s.destination)
			if err != nil {
				s.logger.Warn("Could not read destination playlist",
					zap.String("destination", s.destination),
					zap.Error(err))
				return nil
			}
			result.PreviousTracks = len(current)
			return nil
		})
	}

	var tracks []spotify.Track
	s.onStage(StageFetchingSource)
	g.Go(func() error {
		var (
			skipped int
			err     error
		)
		tracks, skipped, err = client.PlaylistTracks(gctx, s.source)
		if err != nil {
			return &Error{Stage: StageFetchingSource, Err: err}
		}
		result.SourceTracks = len(tracks)
		result.Skipped = skipped

		s.logger.Info("Fetched source playlist",
			zap.String("source", s.source),
			zap.Int("tracks", len(tracks)),
			zap.Int("skipped", skipped))

		// Whatever remains is the wait for the destination read.
		if s.fetchDestination {
			s.onStage(StageFetchingDestination)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tracks, nil
}

// write replaces the destination with ids, batchSize tracks at a time. The
// first batch replaces the playlist, later batches append in order. An empty
// ids clears the playlist with a single replace. Returns the number of
// batches and tracks that were written, also when a later batch fails.
func (s *Synchronizer) write(ctx context.Context, client PlaylistClient, ids []string) (batchesWritten, tracksWritten int, err error) {
	batches := Batches(ids, s.batchSize)
	if len(batches) == 0 {
		batches = [][]string{nil}
	}

	limit := rate.Inf
	if s.writeInterval > 0 {
		limit = rate.Every(s.writeInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, batch := range batches {
		s.onStage(StageWriting)

		if err := limiter.Wait(ctx); err != nil {
			return i, tracksWritten, &Error{Stage: StageWriting, Batch: i + 1, Batches: len(batches), Err: err}
		}

		if i == 0 {
			err = client.ReplacePlaylistTracks(ctx, s.destination, batch)
		} else {
			err = client.AddTracksToPlaylist(ctx, s.destination, batch)
		}
		if err != nil {
			return i, tracksWritten, &Error{Stage: StageWriting, Batch: i + 1, Batches: len(batches), Err: err}
		}
		tracksWritten += len(batch)

		s.logger.Debug("Wrote batch",
			zap.Int("batch", i+1),
			zap.Int("of", len(batches)),
			zap.Int("tracks", len(batch)))
	}

	return len(batches), tracksWritten, nil
}

// SortNewestFirst returns a copy of tracks ordered by descending add date.
// Tracks added at the same instant keep their source playlist order, so
// unchanged input always produces the same output.
func SortNewestFirst(tracks []spotify.Track) []spotify.Track {
	sorted := slices.Clone(tracks)
	slices.SortStableFunc(sorted, func(a, b spotify.Track) int {
		return b.AddedAt.Compare(a.AddedAt)
	})
	return sorted
}

// Batches splits ids into consecutive chunks of at most size elements.
func Batches(ids []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}
