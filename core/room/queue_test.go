package room

import (
	"testing"
	"time"

	"VoteFM/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(id int64, score int, created time.Time) *model.Track {
	return &model.Track{ID: id, RoomID: "R1", VoteScore: score, CreatedAt: created, Duration: 200}
}

func TestOrderQueue(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		tracks []*model.Track
		want   []int64
	}{
		{"empty", nil, []int64{}},
		{"score first", []*model.Track{track(1, 0, base), track(2, 3, base.Add(time.Minute))}, []int64{2, 1}},
		{"older wins ties", []*model.Track{track(1, 1, base.Add(time.Minute)), track(2, 1, base)}, []int64{2, 1}},
		{"id breaks exact ties", []*model.Track{track(5, 1, base), track(3, 1, base)}, []int64{3, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OrderQueue(tt.tracks)
			ids := make([]int64, 0, len(got))
			for _, tr := range got {
				ids = append(ids, tr.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestOrderQueueDoesNotReorderInput(t *testing.T) {
	base := time.Now()
	in := []*model.Track{track(1, 0, base), track(2, 5, base)}
	OrderQueue(in)
	assert.Equal(t, int64(1), in[0].ID)
}

func TestNextTrack(t *testing.T) {
	base := time.Now()
	x := track(1, 1, base)
	y := track(2, 1, base.Add(time.Second))
	z := track(3, 0, base.Add(-time.Hour))
	tracks := []*model.Track{z, y, x}

	next := NextTrack(tracks, nil)
	require.NotNil(t, next)
	assert.Equal(t, x.ID, next.ID)

	// 当前播放的歌曲不会被再次选中
	next = NextTrack(tracks, &x.ID)
	require.NotNil(t, next)
	assert.Equal(t, y.ID, next.ID)

	// 删除后重新查询不会返回已删除的歌曲
	next = NextTrack([]*model.Track{y, z}, nil)
	require.NotNil(t, next)
	assert.Equal(t, y.ID, next.ID)

	assert.Nil(t, NextTrack(nil, nil))
	assert.Nil(t, NextTrack([]*model.Track{x}, &x.ID))
}
