package room

import (
	"context"

	"VoteFM/repository"
)

// Ledger 投票账本
//
// 投票行与 Track.VoteScore 的同步由仓库层在同一事务内完成。
type Ledger struct {
	votes repository.VoteRepository
}

// NewLedger creates a ledger over votes.
func NewLedger(votes repository.VoteRepository) *Ledger {
	return &Ledger{votes: votes}
}

// Vote records the user's vote and returns the new score. A second vote by
// the same user on the same track is a conflict.
func (l *Ledger) Vote(ctx context.Context, trackID, userID int64) (int, error) {
	return l.votes.AddVote(ctx, trackID, userID)
}

// Unvote removes the user's vote and returns the new score.
func (l *Ledger) Unvote(ctx context.Context, trackID, userID int64) (int, error) {
	return l.votes.RemoveVote(ctx, trackID, userID)
}

// Apply runs the operation named by voteType.
func (l *Ledger) Apply(ctx context.Context, trackID, userID int64, voteType string) (score int, hasVoted bool, err error) {
	switch voteType {
	case VoteUp:
		score, err = l.Vote(ctx, trackID, userID)
		return score, err == nil, err
	case VoteRemove:
		score, err = l.Unvote(ctx, trackID, userID)
		return score, false, err
	default:
		return 0, false, invalid(CodeInvalidMessage, "vote_type must be \"up\" or \"remove\"")
	}
}
