package client

import (
	"time"

	"github.com/opd-ai/lockframe/mls"
	"github.com/opd-ai/lockframe/proto"
)

// RoomState is one identity's membership in one room. The heavy lifting —
// sender-key ratchets, pending-commit tracking — already lives inside
// Group; RoomState exists so Client has somewhere to hang future
// room-scoped bookkeeping without widening Group's own responsibilities.
type RoomState struct {
	Group *mls.Group
}

// pendingAddKey identifies one outstanding FetchAndAddMember request.
type pendingAddKey struct {
	RoomID proto.RoomID
	UserID uint64
}

type pendingAddEntry struct {
	SentAt time.Time
}

// PendingAddTimeout bounds how long a FetchAndAddMember request waits for a
// KeyPackageFetch response before Tick drops it.
const PendingAddTimeout = 60 * time.Second

// CommitTimeout bounds how long a member waits for its own Commit or
// ExternalCommit to come back through the room log before Tick gives up
// and requests a resync.
const CommitTimeout = 30 * time.Second
