// Package protocol is the wire format spoken between an evald client
// and a session.
//
// Clients send JSON objects tagged with an "action".  The server sends
// two kinds of frame back: a JSON input request while a script is
// parked on input(), and a plain-text reply prefixed with ">> " when an
// action completes.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "evald/internal/errors"
)

// Client actions.
const (
	ActionRun           = "run"
	ActionCompile       = "compile"
	ActionTest          = "test"
	ActionInputResponse = "input_response"
)

// ActionInputRequest tags the only JSON frame the server sends.
const ActionInputRequest = "input_request"

// ReplyPrefix starts every text reply.
const ReplyPrefix = ">> "

// Request is a decoded client message.
type Request struct {
	Action string          `json:"action"`
	Code   string          `json:"code,omitempty"`
	Tests  string          `json:"tests,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Answer returns the text carried by an input_response.  JSON strings
// are unquoted; numbers, booleans and other values keep their JSON
// text; a missing or null value is the empty string.
func (r *Request) Answer() string {
	v := bytes.TrimSpace(r.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

// IsEvaluation reports whether the action starts an evaluation.
func (r *Request) IsEvaluation() bool {
	switch r.Action {
	case ActionRun, ActionCompile, ActionTest:
		return true
	}
	return false
}

// Decode parses one client frame.  Any failure is a
// [apperrors.ProtocolError].
func Decode(data []byte) (*Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperrors.Protocol("decode", "", fmt.Errorf("empty message"))
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, apperrors.Protocol("decode", "", err)
	}
	if req.Action == "" {
		return nil, apperrors.Protocol("validate", "action", fmt.Errorf("missing"))
	}
	return &req, nil
}

// Encode serializes a client request.
func Encode(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

type inputRequest struct {
	Action string `json:"action"`
	Prompt string `json:"prompt"`
}

// EncodeInputRequest builds the frame that asks the client for input.
func EncodeInputRequest(prompt string) []byte {
	data, _ := json.Marshal(inputRequest{Action: ActionInputRequest, Prompt: prompt})
	return data
}

// EncodeReply builds a text reply frame.
func EncodeReply(output string) []byte {
	return []byte(ReplyPrefix + output)
}

// Replyf formats a reply frame.
func Replyf(format string, args ...interface{}) []byte {
	return EncodeReply(fmt.Sprintf(format, args...))
}

// ── Client side ──────────────────────────────────────────────────────

// FrameKind classifies a server frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameReply
	FrameInputRequest
)

// Frame is a classified server frame.
type Frame struct {
	Kind   FrameKind
	Text   string // reply body without the prefix, or the raw frame when unknown
	Prompt string // input request prompt
}

// ParseServerFrame tells an input request from a text reply.
func ParseServerFrame(data []byte) Frame {
	s := string(data)
	if strings.HasPrefix(s, ReplyPrefix) {
		return Frame{Kind: FrameReply, Text: strings.TrimPrefix(s, ReplyPrefix)}
	}
	var ir inputRequest
	if json.Unmarshal(data, &ir) == nil && ir.Action == ActionInputRequest {
		return Frame{Kind: FrameInputRequest, Prompt: ir.Prompt}
	}
	return Frame{Kind: FrameUnknown, Text: s}
}

// InputResponse builds the client's answer to an input request.
func InputResponse(value string) []byte {
	raw, _ := json.Marshal(value)
	data, _ := json.Marshal(Request{Action: ActionInputResponse, Value: raw})
	return data
}
