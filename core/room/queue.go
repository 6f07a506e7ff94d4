package room

import (
	"sort"

	"VoteFM/model"
)

// OrderQueue returns a copy of tracks ordered by vote score descending, then
// creation time ascending, then id ascending.
func OrderQueue(tracks []*model.Track) []*model.Track {
	ordered := make([]*model.Track, len(tracks))
	copy(ordered, tracks)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.VoteScore != b.VoteScore {
			return a.VoteScore > b.VoteScore
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ordered
}

// NextTrack picks the track that plays next: the head of the ordered queue,
// skipping the track that is currently playing. Returns nil when nothing is left.
func NextTrack(tracks []*model.Track, currentID *int64) *model.Track {
	for _, t := range OrderQueue(tracks) {
		if currentID != nil && t.ID == *currentID {
			continue
		}
		return t
	}
	return nil
}

// findTrack looks a track up by id within the room's tracks.
func findTrack(tracks []*model.Track, id int64) *model.Track {
	for _, t := range tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
