package protocol

import (
	"encoding/json"
	"testing"

	apperrors "evald/internal/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		action  string
		wantErr bool
	}{
		{"run", `{"action":"run","code":"1+1"}`, ActionRun, false},
		{"test", `{"action":"test","code":"a","tests":"b"}`, ActionTest, false},
		{"input", `{"action":"input_response","value":"x"}`, ActionInputResponse, false},
		{"unknown action decodes", `{"action":"deploy"}`, "deploy", false},
		{"empty", ``, "", true},
		{"garbage", `not json`, "", true},
		{"no action", `{"code":"1"}`, "", true},
		{"array", `[1,2]`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !apperrors.IsProtocol(err) {
					t.Errorf("error should be a ProtocolError: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.Action != tt.action {
				t.Errorf("action = %q, want %q", req.Action, tt.action)
			}
		})
	}
}

func TestRequest_Answer(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{`"Alice"`, "Alice"},
		{`"line\nbreak"`, "line\nbreak"},
		{`42`, "42"},
		{`true`, "true"},
		{`null`, ""},
		{``, ""},
		{`{"a":1}`, `{"a":1}`},
	}
	for _, tt := range tests {
		req := Request{Action: ActionInputResponse, Value: json.RawMessage(tt.value)}
		if got := req.Answer(); got != tt.want {
			t.Errorf("Answer(%s) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestRequest_IsEvaluation(t *testing.T) {
	for _, a := range []string{ActionRun, ActionCompile, ActionTest} {
		if !(&Request{Action: a}).IsEvaluation() {
			t.Errorf("%s should be an evaluation", a)
		}
	}
	for _, a := range []string{ActionInputResponse, "deploy"} {
		if (&Request{Action: a}).IsEvaluation() {
			t.Errorf("%s should not be an evaluation", a)
		}
	}
}

func TestEncodeInputRequest(t *testing.T) {
	var got map[string]string
	if err := json.Unmarshal(EncodeInputRequest("Name? "), &got); err != nil {
		t.Fatal(err)
	}
	if got["action"] != "input_request" || got["prompt"] != "Name? " {
		t.Errorf("got %v", got)
	}
}

func TestEncodeReply(t *testing.T) {
	if got := string(EncodeReply("2\n")); got != ">> 2\n" {
		t.Errorf("got %q", got)
	}
	if got := string(Replyf("Unsupported action: %s", "x")); got != ">> Unsupported action: x" {
		t.Errorf("got %q", got)
	}
}

func TestParseServerFrame(t *testing.T) {
	f := ParseServerFrame(EncodeReply("hello"))
	if f.Kind != FrameReply || f.Text != "hello" {
		t.Errorf("reply frame = %+v", f)
	}

	f = ParseServerFrame(EncodeInputRequest("Age? "))
	if f.Kind != FrameInputRequest || f.Prompt != "Age? " {
		t.Errorf("input frame = %+v", f)
	}

	// A reply whose body happens to be JSON is still a reply.
	f = ParseServerFrame(EncodeReply(`{"action":"input_request"}`))
	if f.Kind != FrameReply {
		t.Errorf("prefixed frame should be a reply, got %+v", f)
	}

	f = ParseServerFrame([]byte("???"))
	if f.Kind != FrameUnknown || f.Text != "???" {
		t.Errorf("unknown frame = %+v", f)
	}
}

func TestInputResponse_Decodes(t *testing.T) {
	req, err := Decode(InputResponse("Bob"))
	if err != nil {
		t.Fatal(err)
	}
	if req.Action != ActionInputResponse || req.Answer() != "Bob" {
		t.Errorf("got %+v answer %q", req, req.Answer())
	}
}
