package protocol

// NewMessage is the payload of a new_message envelope.
type NewMessage struct {
	RoomID    string
	Sender    string
	Message   string
	Timestamp string
}

// AsNewMessage reads a new_message payload. Sender defaults to "Unknown".
func (e Envelope) AsNewMessage() NewMessage {
	return NewMessage{
		RoomID:    e.String("room_id", ""),
		Sender:    e.String("sender", "Unknown"),
		Message:   e.String("message", ""),
		Timestamp: e.String("timestamp", ""),
	}
}

// SystemNotification is the payload of a system_notification envelope.
type SystemNotification struct {
	Title    string
	Message  string
	Severity string
}

func (e Envelope) AsSystemNotification() SystemNotification {
	return SystemNotification{
		Title:    e.String("title", ""),
		Message:  e.String("message", ""),
		Severity: e.String("type", ""),
	}
}

// ControlFrame is what the server reads from a client frame.
type ControlFrame struct {
	Type       Type
	RoomID     string
	Message    string
	SenderName string
}

// ParseControl reads a flat outbound frame as the server sees it.
func ParseControl(raw []byte) (ControlFrame, error) {
	env, err := Parse(raw)
	if err != nil {
		return ControlFrame{}, err
	}
	// control fields live at the top level, not under data
	f := Frame(raw)
	return ControlFrame{
		Type:       env.Type,
		RoomID:     f.field("room_id"),
		Message:    f.field("message"),
		SenderName: f.field("sender_name"),
	}, nil
}
