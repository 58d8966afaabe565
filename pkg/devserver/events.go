package devserver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/code-100-precent/LingClassroom/pkg/protocol"
	"github.com/tidwall/sjson"
)

var now = time.Now

func timestamp() string {
	return now().UTC().Format(time.RFC3339Nano)
}

// envelope builds {"type": t, "data": {...}} from alternating path/value pairs.
func envelope(t protocol.Type, kv ...interface{}) ([]byte, error) {
	data := []byte(`{}`)
	for i := 0; i+1 < len(kv); i += 2 {
		path, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("devserver: path %v is not a string", kv[i])
		}
		var err error
		data, err = sjson.SetBytes(data, path, kv[i+1])
		if err != nil {
			return nil, fmt.Errorf("devserver: set %s: %w", path, err)
		}
	}
	return protocol.Envelope{Type: t, Data: data}.Bytes()
}

// NewMessage is the room broadcast of a chat_message.
func NewMessage(roomID, sender, message string) ([]byte, error) {
	return envelope(protocol.TypeNewMessage,
		"sender", sender,
		"message", message,
		"timestamp", timestamp(),
		"room_id", roomID,
	)
}

// QuizCompleted is sent to the user who finished a quiz.
func QuizCompleted(title string, score float64) ([]byte, error) {
	return envelope(protocol.TypeQuizCompleted,
		"title", title,
		"score", score,
		"timestamp", timestamp(),
		"message", fmt.Sprintf("Quiz '%s' completed with %s%% score!", title, strconv.FormatFloat(score, 'f', -1, 64)),
	)
}

// SystemNotification carries a titled message with a severity.
func SystemNotification(title, message, severity string) ([]byte, error) {
	if severity == "" {
		severity = "info"
	}
	return envelope(protocol.TypeSystemNotification,
		"title", title,
		"message", message,
		"type", severity,
		"timestamp", timestamp(),
	)
}

// ParentLetterGenerating announces that a letter is being written.
func ParentLetterGenerating() ([]byte, error) {
	return envelope(protocol.TypeParentLetterGenerating, "timestamp", timestamp())
}

// ParentLetterGenerated delivers a finished letter.
func ParentLetterGenerated(id int64, title, content string) ([]byte, error) {
	return envelope(protocol.TypeParentLetterGenerated,
		"id", id,
		"title", title,
		"content", content,
		"created_at", timestamp(),
	)
}

// StatsUpdate wraps a JSON object of dashboard counters.
func StatsUpdate(stats []byte) ([]byte, error) {
	return protocol.Envelope{Type: protocol.TypeSystemStatsUpdate, Data: stats}.Bytes()
}
