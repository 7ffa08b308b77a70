// SPDX-License-Identifier: MPL-2.0

// Package event implements the JSON event envelope exchanged on the
// signaling and mixer control channels, and a small handler-based app
// running that envelope over stream connections.
package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// Version is the only envelope version spoken on the wire.
const Version = 1

// Stable error codes carried in the envelope error object.
const (
	CodeParameterError  = 4001
	CodeAuth            = 4100
	CodeCodecError      = 4200
	CodeSessionUnknown  = 4300
	CodeProcessingError = 5000
)

const (
	DescParameterError  = "parameter missing or invalid"
	DescAuth            = "authentication failed"
	DescCodecError      = "codec not supported"
	DescSessionUnknown  = "session unknown"
	DescProcessingError = "processing error"
)

// Error is the envelope error object.
type Error struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d|%s", e.Code, e.Description)
}

// Message is the generic event envelope. A request carries Parameter.
// A response echoes the request under Request and carries either
// Response or Error.
type Message struct {
	Event     string         `json:"event"`
	UUID      string         `json:"uuid"`
	Version   int            `json:"version"`
	Parameter map[string]any `json:"parameter,omitempty"`
	Request   map[string]any `json:"request,omitempty"`
	Response  map[string]any `json:"response,omitempty"`
	Error     *Error         `json:"error,omitempty"`
}

// NewMessage creates a request envelope. A fresh uuid is drawn when id
// is empty.
func NewMessage(name string, id string) *Message {
	if id == "" {
		id = uuid.NewString()
	}
	return &Message{
		Event:   name,
		UUID:    id,
		Version: Version,
	}
}

// IsResponse reports whether the message answers an earlier request.
func (m *Message) IsResponse() bool {
	return m.Response != nil || m.Error != nil || m.Request != nil
}

// ErrorCode returns the error code of an error response, 0 otherwise.
func (m *Message) ErrorCode() int {
	if m.Error == nil {
		return 0
	}
	return m.Error.Code
}

func echoRequest(req *Message) map[string]any {
	echo := map[string]any{
		"event":   req.Event,
		"uuid":    req.UUID,
		"version": req.Version,
	}
	if req.Parameter != nil {
		echo["parameter"] = req.Parameter
	}
	return echo
}

// SuccessResponse builds a response envelope echoing req, with an empty
// response object for the caller to fill.
func SuccessResponse(req *Message) *Message {
	return &Message{
		Event:    req.Event,
		UUID:     req.UUID,
		Version:  Version,
		Request:  echoRequest(req),
		Response: map[string]any{},
	}
}

// ErrorResponse builds an error response envelope echoing req.
func ErrorResponse(req *Message, code int, description string) *Message {
	return &Message{
		Event:   req.Event,
		UUID:    req.UUID,
		Version: Version,
		Request: echoRequest(req),
		Error:   &Error{Code: code, Description: description},
	}
}

func decode(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// DecodeParameter decodes the parameter object into out.
func DecodeParameter(m *Message, out any) error {
	if m.Parameter == nil {
		return fmt.Errorf("event %q: no parameter", m.Event)
	}
	return decode(m.Parameter, out)
}

// DecodeResponse decodes the response object into out.
func DecodeResponse(m *Message, out any) error {
	if m.Response == nil {
		return fmt.Errorf("event %q: no response", m.Event)
	}
	return decode(m.Response, out)
}
