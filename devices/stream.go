package devices

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Stream is a bundle of live tracks acquired together
type Stream struct {
	id string

	mu       sync.Mutex
	tracks   []*Track
	handlers []EndedHandler
	stopped  bool
}

func NewStream(tracks ...*Track) *Stream {
	s := &Stream{id: uuid.NewString()}
	for _, track := range tracks {
		s.AddTrack(track)
	}
	return s
}

func (s *Stream) ID() string {
	return s.id
}

// AddTrack attaches a track. Unexpected ends of the track are forwarded to the stream's handlers.
func (s *Stream) AddTrack(track *Track) {
	if track == nil {
		return
	}
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	track.OnEnded(s.dispatchEnded)
}

func (s *Stream) removeTrack(track *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = slices.DeleteFunc(s.tracks, func(t *Track) bool { return t == track })
}

func (s *Stream) dispatchEnded(track *Track, err error) {
	s.mu.Lock()
	owned := slices.Contains(s.tracks, track)
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	if !owned {
		return
	}
	for _, handler := range handlers {
		handler(track, err)
	}
}

// OnTrackEnded registers a handler invoked when any track of the stream ends on its own
func (s *Stream) OnTrackEnded(handler EndedHandler) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracks)
}

func (s *Stream) tracksOfKind(kind Kind) []*Track {
	var result []*Track
	for _, track := range s.Tracks() {
		if track.Kind() == kind {
			result = append(result, track)
		}
	}
	return result
}

func (s *Stream) VideoTracks() []*Track {
	return s.tracksOfKind(KindVideo)
}

func (s *Stream) AudioTracks() []*Track {
	return s.tracksOfKind(KindAudio)
}

// Active reports whether at least one track is still live
func (s *Stream) Active() bool {
	for _, track := range s.Tracks() {
		if !track.Ended() {
			return true
		}
	}
	return false
}

// Stop stops every track. Calling it again is a no-op.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	tracks := slices.Clone(s.tracks)
	s.mu.Unlock()

	var result *multierror.Error
	for _, track := range tracks {
		if err := track.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// MergeAudioTracks moves the audio tracks of src into dst and stops whatever else src held
func MergeAudioTracks(dst, src *Stream) int {
	moved := 0
	for _, track := range src.Tracks() {
		if track.Kind() != KindAudio {
			continue
		}
		src.removeTrack(track)
		dst.AddTrack(track)
		moved++
	}
	_ = src.Stop()
	return moved
}
