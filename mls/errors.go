package mls

import "errors"

var (
	// ErrValidationFailed is returned by ValidateFrame when a frame's
	// signature does not verify against the sender's credential, and by
	// ProcessMessage when a Commit or AppMessage payload cannot be decoded.
	ErrValidationFailed = errors.New("frame validation failed")
	// ErrUnknownSender is returned when a frame's sender_id is not an
	// active member of the group at the frame's stated epoch.
	ErrUnknownSender = errors.New("sender is not an active member")
	// ErrStaleEpoch is returned when a frame targets an epoch older than
	// the group's current epoch.
	ErrStaleEpoch = errors.New("frame epoch is stale")
	// ErrFutureEpoch is returned when a frame targets an epoch the local
	// group has not yet reached.
	ErrFutureEpoch = errors.New("frame epoch is ahead of local state")
	// ErrNoPendingCommit names a Commit that matches no commit this member
	// is waiting on. No function in this package returns it: ProcessMessage
	// applies any Commit for the next epoch and clears the pending commit
	// only when the two match.
	ErrNoPendingCommit = errors.New("no matching pending commit")
	// ErrAlreadyMember is returned by AddMembers when a KeyPackage names a
	// member id already active in the group.
	ErrAlreadyMember = errors.New("member already in group")
	// ErrNotMember is returned by RemoveMembers when a member id is not
	// active in the group.
	ErrNotMember = errors.New("member not in group")
	// ErrWelcomeUnopenable is returned by JoinFromWelcome when the sealed
	// Welcome cannot be opened with the joiner's pending init key.
	ErrWelcomeUnopenable = errors.New("welcome could not be opened")
	// ErrGroupInfoStale is returned by JoinFromExternal when the supplied
	// GroupInfo cannot be decoded; its epoch is not checked.
	ErrGroupInfoStale = errors.New("group info is stale")
)
