package room

import (
	"github.com/rebenew/partysync/internal/v1/types"
)

// nowPlayingPtrLocked returns the current index as a pointer, nil when
// nothing is loaded.
func (r *Room) nowPlayingPtrLocked() *int {
	if r.nowPlayingIndex < 0 {
		return nil
	}
	i := r.nowPlayingIndex
	return &i
}

// AddTrack appends a validated entry to the queue. Guests need the
// edit-queue flag; invalid track fields fail with no state change.
func (r *Room) AddTrack(sender types.SenderIdType, trackID, title string, durationMs int64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canEditQueueLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	entry, err := types.NewTrackEntry(trackID, title, sender, durationMs)
	if err != nil {
		return resultFail(types.ReasonActionFailed)
	}

	r.queue = append(r.queue, entry)
	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}

	r.broadcaster.PlaylistUpdate(r.id, types.SubTypeAdd, entry, len(r.queue),
		r.nowPlayingPtrLocked(), nil, nil, r.recipientsLocked(""))
	return resultOK()
}

// RemoveTrack deletes the entry at index. Removing the loaded track
// unloads playback; removing an earlier entry shifts the now-playing index
// down so it keeps naming the same track.
func (r *Room) RemoveTrack(sender types.SenderIdType, index int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canEditQueueLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	if index < 0 || index >= len(r.queue) {
		return resultFail(types.ReasonActionFailed)
	}

	removed := r.queue[index]
	r.queue = append(r.queue[:index], r.queue[index+1:]...)

	switch {
	case index == r.nowPlayingIndex:
		r.clearPlaybackLocked()
	case index < r.nowPlayingIndex:
		r.nowPlayingIndex--
	}

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}

	from := index
	r.broadcaster.PlaylistUpdate(r.id, types.SubTypeRemove, removed, len(r.queue),
		r.nowPlayingPtrLocked(), &from, nil, r.recipientsLocked(""))
	return resultOK()
}

// MoveTrack relocates the entry at from to position to. The now-playing
// index follows the track it named before the move.
func (r *Room) MoveTrack(sender types.SenderIdType, from, to int) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canEditQueueLocked(sender) {
		return resultFail(types.ReasonActionFailed)
	}
	if from < 0 || from >= len(r.queue) || to < 0 || to >= len(r.queue) {
		return resultFail(types.ReasonActionFailed)
	}
	if from == to {
		return resultOK()
	}

	moved := r.queue[from]
	r.queue = append(r.queue[:from], r.queue[from+1:]...)
	r.queue = append(r.queue[:to], append([]types.TrackEntry{moved}, r.queue[to:]...)...)

	switch {
	case r.nowPlayingIndex == from:
		r.nowPlayingIndex = to
	case from < r.nowPlayingIndex && to >= r.nowPlayingIndex:
		r.nowPlayingIndex--
	case from > r.nowPlayingIndex && to <= r.nowPlayingIndex:
		r.nowPlayingIndex++
	}

	r.touchActivityLocked()
	if sender == r.hostID {
		r.touchHostActivityLocked()
	}

	f, t := from, to
	r.broadcaster.PlaylistUpdate(r.id, types.SubTypeMove, moved, len(r.queue),
		r.nowPlayingPtrLocked(), &f, &t, r.recipientsLocked(""))
	return resultOK()
}

// ClearQueue empties the queue and unloads playback. Host only.
func (r *Room) ClearQueue(sender types.SenderIdType) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender != r.hostID {
		return resultFail(types.ReasonNotAuthorized)
	}

	r.queue = nil
	r.clearPlaybackLocked()
	r.touchActivityLocked()
	r.touchHostActivityLocked()

	r.broadcaster.System(r.id, types.EventPlaylistCleared,
		map[string]any{"clearedBy": string(sender)}, r.recipientsLocked(""))
	return resultOK()
}

// ReplaceQueue swaps the whole queue for the given entries, preserving each
// entry's original addedBy attribution. The now-playing index is kept when
// it still lands inside the new queue, otherwise playback unloads. Host
// only.
func (r *Room) ReplaceQueue(sender types.SenderIdType, tracks []types.TrackEntry) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender != r.hostID {
		return resultFail(types.ReasonNotAuthorized)
	}

	replacement := make([]types.TrackEntry, 0, len(tracks))
	for _, t := range tracks {
		addedBy := t.AddedBy
		if addedBy == "" {
			addedBy = sender
		}
		entry, err := types.NewTrackEntry(t.TrackID, t.Title, addedBy, t.DurationMs)
		if err != nil {
			return resultFail(types.ReasonActionFailed)
		}
		if t.AddedAt > 0 {
			entry.AddedAt = t.AddedAt
		}
		replacement = append(replacement, entry)
	}

	r.queue = replacement
	if r.nowPlayingIndex >= len(r.queue) {
		r.clearPlaybackLocked()
	} else if r.nowPlayingIndex >= 0 {
		r.scheduleTrackEndLocked()
	}

	r.touchActivityLocked()
	r.touchHostActivityLocked()

	r.broadcaster.System(r.id, types.EventPlaylistSync,
		map[string]any{"tracks": replacement, "playlistSize": len(replacement)},
		r.recipientsLocked(""))
	return resultOK()
}

// UpdateSettings flips the guest permission flags. nil means "leave
// unchanged". Host only.
func (r *Room) UpdateSettings(sender types.SenderIdType, allowControl, allowEditQueue *bool) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender != r.hostID {
		return resultFail(types.ReasonNotAuthorized)
	}

	if allowControl != nil {
		r.allowGuestsControl = *allowControl
	}
	if allowEditQueue != nil {
		r.allowGuestsEditQueue = *allowEditQueue
	}

	r.touchActivityLocked()
	r.touchHostActivityLocked()

	r.broadcaster.SettingsUpdated(r.id, types.SettingsInfo{
		AllowGuestsEditQueue: r.allowGuestsEditQueue,
		AllowGuestsControl:   r.allowGuestsControl,
	}, r.recipientsLocked(""))
	return resultOK()
}

// UpdateTrackDuration backfills a track duration the client learned after
// queueing (durations are opaque to the server until reported). Updating
// the loaded track rearms the auto-advance timer against the new length.
// Host only.
func (r *Room) UpdateTrackDuration(sender types.SenderIdType, index int, durationMs int64) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sender != r.hostID {
		return resultFail(types.ReasonNotAuthorized)
	}
	if index < 0 || index >= len(r.queue) {
		return resultFail(types.ReasonActionFailed)
	}
	if durationMs < 0 {
		durationMs = 0
	}

	r.queue[index].DurationMs = durationMs
	r.touchActivityLocked()
	r.touchHostActivityLocked()

	if index == r.nowPlayingIndex {
		r.scheduleTrackEndLocked()
		track := r.queue[index]
		idx := index
		r.broadcaster.Playback(r.id, "duration_updated", &track, &idx,
			r.positionLocked(), r.recipientsLocked(""))
	}
	return resultOK()
}

// QueueSnapshot returns a copy of the queue for the HTTP facade.
func (r *Room) QueueSnapshot() []types.TrackEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TrackEntry, len(r.queue))
	copy(out, r.queue)
	return out
}

// Settings returns the current permission flags.
func (r *Room) Settings() types.SettingsInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.SettingsInfo{
		AllowGuestsEditQueue: r.allowGuestsEditQueue,
		AllowGuestsControl:   r.allowGuestsControl,
	}
}
