package room

import (
	"time"

	"github.com/rebenew/partysync/internal/v1/types"
)

// nowMillis is the playback clock base.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// positionLocked derives the current playback position. ACTIVE positions
// advance with wall time from nowStartedAt; PAUSED positions are frozen.
func (r *Room) positionLocked() int64 {
	if r.nowPlayingIndex < 0 {
		return 0
	}
	if r.state == types.RoomStatePaused {
		return r.positionAtPause
	}
	if r.nowStartedAt <= 0 {
		return 0
	}
	pos := nowMillis() - r.nowStartedAt
	if pos < 0 {
		pos = 0
	}
	return pos
}

// currentTrackLocked returns the loaded track, or nil.
func (r *Room) currentTrackLocked() *types.TrackEntry {
	if r.nowPlayingIndex < 0 || r.nowPlayingIndex >= len(r.queue) {
		return nil
	}
	t := r.queue[r.nowPlayingIndex]
	return &t
}

// clearPlaybackLocked unloads the current track. ACTIVE/PAUSED rooms drop
// back to CREATED; HOST_DISCONNECTED is preserved.
func (r *Room) clearPlaybackLocked() {
	r.nowPlayingIndex = -1
	r.nowStartedAt = 0
	r.positionAtPause = 0
	r.cancelTrackEndLocked()
	if r.state == types.RoomStateActive || r.state == types.RoomStatePaused {
		r.state = types.RoomStateCreated
	}
}

// --- End-of-track timer ---

// cancelTrackEndLocked stops any pending timer and bumps the generation so
// an already-fired callback becomes a no-op.
func (r *Room) cancelTrackEndLocked() {
	r.timerGen++
	if r.trackEndTimer != nil {
		r.trackEndTimer.Stop()
		r.trackEndTimer = nil
	}
}

// scheduleTrackEndLocked arms the auto-advance timer for the remainder of
// the current track. Rooms that are not ACTIVE, or tracks with unknown
// duration, get no timer.
func (r *Room) scheduleTrackEndLocked() {
	r.cancelTrackEndLocked()

	if r.state != types.RoomStateActive {
		return
	}
	track := r.currentTrackLocked()
	if track == nil || track.DurationMs <= 0 {
		return
	}

	remaining := track.DurationMs - r.positionLocked()
	if remaining < 0 {
		remaining = 0
	}

	gen := r.timerGen
	r.trackEndTimer = time.AfterFunc(time.Duration(remaining)*time.Millisecond, func() {
		r.handleTrackEnd(gen)
	})
}

// handleTrackEnd fires when the current track should have finished. A
// stale generation, a non-ACTIVE room, or a cleared queue makes it a no-op;
// otherwise it advances exactly like a host-issued next command.
func (r *Room) handleTrackEnd(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.timerGen {
		return
	}
	if r.state != types.RoomStateActive || r.nowPlayingIndex < 0 {
		return
	}
	r.nextLocked(r.hostID)
}

// --- Playback commands ---

// Play starts or resumes playback. With trackIndex set, the given queue
// entry is loaded (out-of-range fails with no state change). Without it,
// the current track resumes from its paused position, or the first queued
// track starts from zero when nothing is loaded. positionMs, when present,
// overrides the start position.
func (r *Room) Play(sender types.SenderIdType, trackIndex *int, positionMs *int64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playLocked(sender, trackIndex, positionMs)
}

func (r *Room) playLocked(sender types.SenderIdType, trackIndex *int, positionMs *int64) Result {
	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}

	wasPaused := r.state == types.RoomStatePaused
	sameTrack := trackIndex == nil || (r.nowPlayingIndex >= 0 && *trackIndex == r.nowPlayingIndex)

	if trackIndex != nil {
		if *trackIndex < 0 || *trackIndex >= len(r.queue) {
			return resultFail(types.ReasonActionFailed)
		}
		r.nowPlayingIndex = *trackIndex
	} else if r.nowPlayingIndex < 0 {
		if len(r.queue) == 0 {
			return resultFail(types.ReasonActionFailed)
		}
		r.nowPlayingIndex = 0
	}

	var pos int64
	switch {
	case positionMs != nil:
		pos = *positionMs
		if pos < 0 {
			pos = 0
		}
	case wasPaused && sameTrack:
		pos = r.positionAtPause
	default:
		pos = 0
	}

	r.nowStartedAt = nowMillis() - pos
	r.positionAtPause = 0
	r.state = types.RoomStateActive

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}
	r.scheduleTrackEndLocked()

	idx := r.nowPlayingIndex
	r.broadcaster.Playback(r.id, types.SubTypePlay, r.currentTrackLocked(), &idx, pos, r.recipientsLocked(""))
	return resultOK()
}

// Pause freezes playback at the derived position. Fails when nothing is
// loaded.
func (r *Room) Pause(sender types.SenderIdType) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseLocked(sender)
}

func (r *Room) pauseLocked(sender types.SenderIdType) Result {
	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	if r.nowPlayingIndex < 0 {
		return resultFail(types.ReasonActionFailed)
	}

	pos := r.positionLocked()
	r.positionAtPause = pos
	r.state = types.RoomStatePaused
	r.cancelTrackEndLocked()

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}

	idx := r.nowPlayingIndex
	r.broadcaster.Playback(r.id, types.SubTypePause, r.currentTrackLocked(), &idx, pos, r.recipientsLocked(""))
	return resultOK()
}

// Next advances to the following queue entry and starts it from zero.
// Advancing past the last entry unloads playback, broadcasts
// playlist_ended, and fails the command.
func (r *Room) Next(sender types.SenderIdType) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked(sender)
}

func (r *Room) nextLocked(sender types.SenderIdType) Result {
	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	if r.nowPlayingIndex < 0 {
		return resultFail(types.ReasonActionFailed)
	}

	nextIdx := r.nowPlayingIndex + 1
	if nextIdx >= len(r.queue) {
		r.clearPlaybackLocked()
		r.touchActivityLocked()
		r.broadcaster.System(r.id, types.EventPlaylistEnded, nil, r.recipientsLocked(""))
		return resultFail(types.ReasonActionFailed)
	}

	return r.startTrackLocked(sender, nextIdx)
}

// Previous steps back one queue entry. Fails at the first entry.
func (r *Room) Previous(sender types.SenderIdType) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	if r.nowPlayingIndex < 0 {
		return resultFail(types.ReasonActionFailed)
	}

	prevIdx := r.nowPlayingIndex - 1
	if prevIdx < 0 {
		return resultFail(types.ReasonActionFailed)
	}

	return r.startTrackLocked(sender, prevIdx)
}

// startTrackLocked loads queue[idx] from position zero in ACTIVE state.
func (r *Room) startTrackLocked(sender types.SenderIdType, idx int) Result {
	r.nowPlayingIndex = idx
	r.nowStartedAt = nowMillis()
	r.positionAtPause = 0
	r.state = types.RoomStateActive

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}
	r.scheduleTrackEndLocked()

	r.broadcaster.Playback(r.id, types.SubTypePlay, r.currentTrackLocked(), &idx, 0, r.recipientsLocked(""))
	return resultOK()
}

// Seek moves the position within the current track without changing the
// play/pause state. Positions below zero or past a known duration fail.
func (r *Room) Seek(sender types.SenderIdType, positionMs int64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seekLocked(sender, positionMs)
}

func (r *Room) seekLocked(sender types.SenderIdType, positionMs int64) Result {
	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	track := r.currentTrackLocked()
	if track == nil {
		return resultFail(types.ReasonActionFailed)
	}
	if positionMs < 0 || (track.DurationMs > 0 && positionMs > track.DurationMs) {
		return resultFail(types.ReasonActionFailed)
	}

	if r.state == types.RoomStatePaused {
		r.positionAtPause = positionMs
	} else {
		r.nowStartedAt = nowMillis() - positionMs
		r.scheduleTrackEndLocked()
	}

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}

	idx := r.nowPlayingIndex
	r.broadcaster.Playback(r.id, types.SubTypeSeek, track, &idx, positionMs, r.recipientsLocked(""))
	return resultOK()
}

// SyncState applies a full authoritative playback state in one step:
// track selection, position, and play/pause flag. Used by reconnecting
// hosts to republish where the room should be.
func (r *Room) SyncState(sender types.SenderIdType, trackIndex *int, positionMs *int64, isPlaying bool) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canControlLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}

	res := r.playLocked(sender, trackIndex, positionMs)
	if !res.OK {
		return res
	}
	if !isPlaying {
		return r.pauseLocked(sender)
	}
	return res
}
