// Package protocol defines the JSON frames exchanged over the presence socket.
//
// Every frame is an envelope {"event": name, "data": payload}. Clients send
// update_location; the server broadcasts online_count and users_list and
// answers rejected frames with error.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	EventUpdateLocation = "update_location"
	EventOnlineCount    = "online_count"
	EventUsersList      = "users_list"
	EventError          = "error"
)

var (
	ErrEmptyFrame        = errors.New("empty frame")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrMissingCoordinate = errors.New("lat and lng are required")
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Location is the update_location payload. Coordinates are degrees and are
// not range checked.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UserRecord is one users_list entry. Field order is part of the wire format.
type UserRecord struct {
	ID  string  `json:"id"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps data in an envelope for event.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func OnlineCount(count int) ([]byte, error) {
	return Encode(EventOnlineCount, count)
}

// UsersList encodes the roster. A nil roster is sent as [].
func UsersList(users []UserRecord) ([]byte, error) {
	if users == nil {
		users = []UserRecord{}
	}
	return Encode(EventUsersList, users)
}

func Error(code string, err error) ([]byte, error) {
	return Encode(EventError, ErrorPayload{Code: code, Message: err.Error()})
}

// Decode parses the envelope of a client frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(frame)) == 0 {
		return env, ErrEmptyFrame
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("decode envelope: %w", ErrUnknownEvent)
	}
	return env, nil
}

// DecodeLocation parses an update_location payload. Both coordinates must be
// present JSON numbers.
func DecodeLocation(data json.RawMessage) (Location, error) {
	var payload struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if len(data) == 0 {
		return Location{}, ErrMissingCoordinate
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return Location{}, fmt.Errorf("%w: %w", ErrInvalidLocation, err)
	}
	if payload.Lat == nil || payload.Lng == nil {
		return Location{}, ErrMissingCoordinate
	}
	return Location{Lat: *payload.Lat, Lng: *payload.Lng}, nil
}

// ErrorCode maps a decode error to the code sent back to the client.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrMissingCoordinate), errors.Is(err, ErrInvalidLocation):
		return "invalid_location"
	case errors.Is(err, ErrEmptyFrame):
		return "empty_frame"
	default:
		return "malformed_frame"
	}
}
