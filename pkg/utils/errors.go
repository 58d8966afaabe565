package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e Error) StatusCode() int {
	return e.Code
}

func (e Error) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

var ErrUnauthorized = &Error{Code: http.StatusUnauthorized, Message: "unauthorized"}
var ErrRoomRequired = &Error{Code: http.StatusBadRequest, Message: "room id required"}

var ErrTokenRequired = errors.New("token required") // Missing bearer token on a dashboard request

var ErrInvalidServerURL = errors.New("invalid server URL") // WS host or API base URL could not be parsed

var ErrNotConnected = errors.New("not connected") // Socket is not OPEN

var ErrClosed = errors.New("closed") // Component already shut down

var ErrInvalidFrame = errors.New("invalid frame") // Inbound text was not a JSON object with a string type field
