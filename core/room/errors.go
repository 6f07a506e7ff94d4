package room

import (
	"errors"
	"fmt"

	"VoteFM/repository"
)

// Kind 错误分类
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Wire error codes sent in error{error_code}.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodePermissionDenied     = "permission_denied"
	CodeNotParticipant       = "not_participant"
	CodeNotInRoom            = "not_in_room"
	CodeRoomNotFound         = "room_not_found"
	CodeTrackNotFound        = "track_not_found"
	CodeInvalidMessage       = "invalid_message"
	CodeInvalidAction        = "invalid_action"
	CodeUnknownType          = "unknown_message_type"
	CodeNotPlaying           = "not_playing"
	CodeNotPaused            = "not_paused"
	CodeQueueEmpty           = "queue_empty"
	CodeAlreadyVoted         = "already_voted"
	CodeVoteNotFound         = "vote_not_found"
	CodeAlreadyParticipant   = "already_participant"
	CodeAdminCannotLeave     = "admin_cannot_leave"
	CodeInvalidUpload        = "invalid_upload"
	CodeSessionReplaced      = "session_replaced"
	CodeMembershipChanged    = "membership_changed"
	CodeConnectionClosed     = "connection_closed"
	CodeInternal             = "internal_error"
)

// Error is the classified error returned by room operations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func permissionDenied(msg string) *Error { return newError(KindAuthorization, CodePermissionDenied, msg) }
func invalid(code, msg string) *Error     { return newError(KindValidation, code, msg) }
func conflict(code, msg string) *Error    { return newError(KindConflict, code, msg) }

var (
	ErrNotPlaying = conflict(CodeNotPlaying, "nothing is playing")
	ErrNotPaused  = conflict(CodeNotPaused, "playback is not paused")
	ErrQueueEmpty = conflict(CodeQueueEmpty, "the queue is empty")
	ErrNotInRoom  = invalid(CodeNotInRoom, "join a room first")
)

// Classify maps any error to a classified *Error. Unknown errors become internal
// errors whose message does not leak the cause.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, ErrConnectionClosed):
		return &Error{Kind: KindConflict, Code: CodeConnectionClosed, Message: "connection is closing", Err: err}
	case errors.Is(err, repository.ErrRoomNotFound):
		return &Error{Kind: KindNotFound, Code: CodeRoomNotFound, Message: "room not found", Err: err}
	case errors.Is(err, repository.ErrTrackNotFound):
		return &Error{Kind: KindNotFound, Code: CodeTrackNotFound, Message: "track not found", Err: err}
	case errors.Is(err, repository.ErrDuplicateVote):
		return &Error{Kind: KindConflict, Code: CodeAlreadyVoted, Message: "you already voted for this track", Err: err}
	case errors.Is(err, repository.ErrVoteNotFound):
		return &Error{Kind: KindConflict, Code: CodeVoteNotFound, Message: "you have not voted for this track", Err: err}
	case errors.Is(err, repository.ErrAlreadyParticipant):
		return &Error{Kind: KindConflict, Code: CodeAlreadyParticipant, Message: "already a participant", Err: err}
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Err: err}
}
