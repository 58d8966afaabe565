// Package protocol defines the JSON envelopes exchanged over the classroom socket.
//
// Inbound frames are {"type": string, "data": object}. Outbound control frames
// are flat objects: {"type": "join_room", "room_id": "..."}.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Type is an envelope tag
type Type string

const (
	TypeQuizCompleted          Type = "quiz_completed"
	TypeNewMessage             Type = "new_message"
	TypeSystemNotification     Type = "system_notification"
	TypeParentLetterGenerated  Type = "parent_letter_generated"
	TypeParentLetterGenerating Type = "parent_letter_generating"
	TypeSystemStatsUpdate      Type = "system_stats_update"

	TypeJoinRoom    Type = "join_room"
	TypeLeaveRoom   Type = "leave_room"
	TypeChatMessage Type = "chat_message"
)

var inboundTypes = map[Type]struct{}{
	TypeQuizCompleted:          {},
	TypeNewMessage:             {},
	TypeSystemNotification:     {},
	TypeParentLetterGenerated:  {},
	TypeParentLetterGenerating: {},
	TypeSystemStatsUpdate:      {},
}

// Known reports whether t is one of the inbound types the client reacts to.
func (t Type) Known() bool {
	_, ok := inboundTypes[t]
	return ok
}

var (
	ErrInvalidJSON = errors.New("protocol: frame is not a JSON object")
	ErrMissingType = errors.New("protocol: frame has no string type")
)

// Envelope is a parsed inbound frame. Data stays raw and is read by path.
type Envelope struct {
	Type Type
	Data []byte
}

// Message is an envelope stamped with its position in the arrival order.
type Message struct {
	Seq        uint64
	ReceivedAt time.Time
	Envelope
}

// Parse validates raw as an envelope. A missing data field yields empty Data.
func Parse(raw []byte) (Envelope, error) {
	if !gjson.ValidBytes(raw) {
		return Envelope{}, ErrInvalidJSON
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Envelope{}, ErrInvalidJSON
	}
	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return Envelope{}, ErrMissingType
	}
	env := Envelope{Type: Type(t.Str)}
	if d := root.Get("data"); d.Exists() {
		env.Data = []byte(d.Raw)
	}
	return env, nil
}

// Get reads a field of Data with a gjson path.
func (e Envelope) Get(path string) gjson.Result {
	if len(e.Data) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(e.Data, path)
}

// String returns a field of Data, or def when it is absent.
func (e Envelope) String(path, def string) string {
	r := e.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return def
	}
	return r.String()
}

// Bytes encodes the envelope back into its wire form.
func (e Envelope) Bytes() ([]byte, error) {
	out, err := sjson.SetBytes([]byte(`{}`), "type", string(e.Type))
	if err != nil {
		return nil, err
	}
	if len(e.Data) > 0 {
		out, err = sjson.SetRawBytes(out, "data", e.Data)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode data: %w", err)
		}
	}
	return out, nil
}

// Frame is an encoded outbound frame.
type Frame []byte

func (f Frame) Type() Type {
	return Type(f.field("type"))
}

func (f Frame) field(path string) string {
	return gjson.GetBytes(f, path).String()
}

func buildFrame(t Type, kv ...string) Frame {
	out, _ := sjson.SetBytes([]byte(`{}`), "type", string(t))
	for i := 0; i+1 < len(kv); i += 2 {
		out, _ = sjson.SetBytes(out, kv[i], kv[i+1])
	}
	return out
}

// JoinRoom builds {"type":"join_room","room_id":roomID}.
func JoinRoom(roomID string) Frame {
	return buildFrame(TypeJoinRoom, "room_id", roomID)
}

// LeaveRoom builds {"type":"leave_room","room_id":roomID}.
func LeaveRoom(roomID string) Frame {
	return buildFrame(TypeLeaveRoom, "room_id", roomID)
}

// ChatMessage builds {"type":"chat_message","room_id","message","sender_name"}.
func ChatMessage(roomID, message, senderName string) Frame {
	return buildFrame(TypeChatMessage, "room_id", roomID, "message", message, "sender_name", senderName)
}
