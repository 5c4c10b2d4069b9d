package coordinator

import (
	"errors"
)

// Error taxonomy for inbound event handling. No error here may corrupt or
// abort a room for other participants; the worst outcome is rejection of the
// offending event.
var (
	// ErrUnknownRoom means the event referenced a room that does not exist.
	ErrUnknownRoom = errors.New("unknown room")
	// ErrUnknownParticipant means the sender never joined the room.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrContentUnavailable means the content store failed; the affected
	// selection is paused and retried on the next host action.
	ErrContentUnavailable = errors.New("content unavailable")
	// ErrRoomBusy means the room inbox is full; the event was dropped and
	// may be retried by the client.
	ErrRoomBusy = errors.New("room busy")
	// ErrRoleDenied means the sender's role may not perform the action.
	ErrRoleDenied = errors.New("role not permitted for action")
)
