package server

import (
	"fmt"

	"github.com/opd-ai/lockframe/proto"
)

// buildErrorFrame encodes an ErrorPayload with the given code and message
// into an Error frame addressed to roomID (zero RoomID for session-layer
// errors). It never fails in practice (ErrorPayload always encodes); a
// failure here falls back to a nil frame, which callers must check.
func buildErrorFrame(roomID proto.RoomID, code uint16, message string) *proto.Frame {
	payload, err := proto.EncodePayload(proto.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return nil
	}
	frame, err := proto.NewFrame(proto.OpError, roomID, 0, payload)
	if err != nil {
		return nil
	}
	return frame
}

func errorAction(sessionID uint64, roomID proto.RoomID, code uint16, format string, args ...interface{}) Action {
	message := fmt.Sprintf(format, args...)
	frame := buildErrorFrame(roomID, code, message)
	if frame == nil {
		return Action{Kind: ActionLog, SessionID: sessionID, RoomID: roomID, Reason: message}
	}
	return Action{Kind: ActionSendToSession, SessionID: sessionID, RoomID: roomID, Frame: frame}
}
