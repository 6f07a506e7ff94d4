package room

import (
	"time"

	"VoteFM/model"
)

// PlaybackState 播放状态
type PlaybackState int

const (
	StateIdle PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// StateOf derives the playback state from the room's stored fields.
func StateOf(r *model.Room) PlaybackState {
	switch {
	case r.CurrentTrackID == nil:
		return StateIdle
	case r.IsPlaying && r.PlaybackStartedAt != nil:
		return StatePlaying
	case !r.IsPlaying && r.PlaybackPausedAt != nil && r.PlaybackStartedAt != nil:
		return StatePaused
	default:
		return StateIdle
	}
}

func seconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

// CurrentPosition returns the elapsed seconds of the current track. It never
// mutates r and never fails: missing or skewed timestamps yield 0 or are clamped.
func CurrentPosition(r *model.Room, now time.Time) float64 {
	if r == nil || !r.IsPlaying || r.PlaybackStartedAt == nil {
		return 0
	}
	elapsed := now.Sub(*r.PlaybackStartedAt)
	// 不应出现：正在播放却带有暂停时间，按冻结在暂停点处理
	if r.PlaybackPausedAt != nil && r.PlaybackPausedAt.After(*r.PlaybackStartedAt) && now.After(*r.PlaybackPausedAt) {
		elapsed -= now.Sub(*r.PlaybackPausedAt)
	}
	return seconds(elapsed)
}

// PausedPosition returns where a paused room stopped, or 0 if it is not paused.
func PausedPosition(r *model.Room) float64 {
	if r == nil || StateOf(r) != StatePaused {
		return 0
	}
	return seconds(r.PlaybackPausedAt.Sub(*r.PlaybackStartedAt))
}

// DisplayPosition is the position clients should render: live while playing,
// frozen while paused.
func DisplayPosition(r *model.Room, now time.Time) float64 {
	if StateOf(r) == StatePaused {
		return PausedPosition(r)
	}
	return CurrentPosition(r, now)
}

// Start plays track from the beginning, overriding whatever was playing.
func Start(r *model.Room, track *model.Track, now time.Time) {
	id := track.ID
	r.CurrentTrackID = &id
	t := now
	r.PlaybackStartedAt = &t
	r.PlaybackPausedAt = nil
	r.IsPlaying = true
}

// Pause freezes the timeline at now.
func Pause(r *model.Room, now time.Time) error {
	if StateOf(r) != StatePlaying {
		return ErrNotPlaying
	}
	t := now
	r.PlaybackPausedAt = &t
	r.IsPlaying = false
	return nil
}

// Resume continues from the paused position by shifting the start time forward
// by the length of the pause.
func Resume(r *model.Room, now time.Time) error {
	if StateOf(r) != StatePaused {
		return ErrNotPaused
	}
	paused := now.Sub(*r.PlaybackPausedAt)
	if paused < 0 {
		paused = 0
	}
	started := r.PlaybackStartedAt.Add(paused)
	r.PlaybackStartedAt = &started
	r.PlaybackPausedAt = nil
	r.IsPlaying = true
	return nil
}

// Stop returns the room to idle.
func Stop(r *model.Room) {
	r.CurrentTrackID = nil
	r.PlaybackStartedAt = nil
	r.PlaybackPausedAt = nil
	r.IsPlaying = false
}

// Skip starts the next track of the queue, or stops when there is none.
func Skip(r *model.Room, tracks []*model.Track, now time.Time) *model.Track {
	next := NextTrack(tracks, r.CurrentTrackID)
	if next == nil {
		Stop(r)
		return nil
	}
	Start(r, next, now)
	return next
}

// Seek moves the position of the current track, keeping the play/pause state.
func Seek(r *model.Room, position float64, now time.Time) error {
	if position < 0 {
		return invalid(CodeInvalidMessage, "position must not be negative")
	}
	offset := time.Duration(position * float64(time.Second))
	switch StateOf(r) {
	case StatePlaying:
		started := now.Add(-offset)
		r.PlaybackStartedAt = &started
	case StatePaused:
		started := r.PlaybackPausedAt.Add(-offset)
		r.PlaybackStartedAt = &started
	default:
		return ErrNotPlaying
	}
	return nil
}
