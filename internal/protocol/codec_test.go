package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"conquest/internal/domain"
)

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		code domain.Code
	}{
		{"empty", "", domain.CodeEmptyPayload},
		{"whitespace", "   \r\n", domain.CodeEmptyPayload},
		{"garbage", "{not json", domain.CodeInvalidJSON},
		{"trailing", `{"type":"ping"} {}`, domain.CodeInvalidJSON},
		{"array", `[1,2]`, domain.CodeInvalidMessage},
		{"string", `"ping"`, domain.CodeInvalidMessage},
		{"no type", `{"payload":{}}`, domain.CodeMissingType},
		{"numeric type", `{"type":7}`, domain.CodeMissingType},
		{"numeric request id", `{"type":"ping","request_id":5}`, domain.CodeInvalidRequestID},
		{"fractional version", `{"type":"ping","protocol_version":1.5}`, domain.CodeInvalidProtocolVersion},
		{"string version", `{"type":"ping","protocol_version":"1"}`, domain.CodeInvalidProtocolVersion},
		{"array payload", `{"type":"ping","payload":[]}`, domain.CodeInvalidMessage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.line))
			var de *domain.Error
			if !errors.As(err, &de) {
				t.Fatalf("expected domain error, got %v", err)
			}
			if de.Code != tc.code || de.Kind != domain.KindProtocol {
				t.Errorf("expected %s/%s, got %s/%s", domain.KindProtocol, tc.code, de.Kind, de.Code)
			}
		})
	}
}

func TestDecode(t *testing.T) {
	req, err := Decode([]byte(`{"type":"action.claim","payload":{"x":1,"y":2},"request_id":"r1","protocol_version":1}` + "\n"))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Kind != KindActionClaim || req.Type != "action.claim" {
		t.Errorf("unexpected kind %v (%s)", req.Kind, req.Type)
	}
	if req.RequestID == nil || *req.RequestID != "r1" {
		t.Errorf("unexpected request id %v", req.RequestID)
	}
	if req.ProtocolVersion == nil || *req.ProtocolVersion != 1 {
		t.Errorf("unexpected protocol version %v", req.ProtocolVersion)
	}
	if x, _ := req.Payload.Int("x"); x != 1 {
		t.Errorf("expected x 1, got %d", x)
	}
}

func TestDecode_Defaults(t *testing.T) {
	req, err := Decode([]byte(`{"type":"teleport","payload":null}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Kind != KindUnknown {
		t.Errorf("expected unknown kind, got %v", req.Kind)
	}
	if req.Payload == nil || req.RequestID != nil || req.ProtocolVersion != nil {
		t.Errorf("unexpected defaults: %+v", req)
	}
}

func TestDecode_KeepsRequestIDOnLaterErrors(t *testing.T) {
	req, err := Decode([]byte(`{"request_id":"abc"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if req == nil || req.RequestID == nil || *req.RequestID != "abc" {
		t.Fatalf("expected request id to survive, got %+v", req)
	}
}

func TestParseKindRoundTrip(t *testing.T) {
	for k := KindAuthRegister; k <= KindPing; k++ {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v; want %v", k.String(), got, k)
		}
	}
	if ParseKind("world.destroy") != KindUnknown {
		t.Error("expected unknown kind")
	}
}

func TestRequiresAuth(t *testing.T) {
	authed := map[Kind]bool{KindWorldState: true, KindActionClaim: true, KindActionAttack: true, KindActionBuild: true}
	for k := KindUnknown; k <= KindPing; k++ {
		if k.RequiresAuth() != authed[k] {
			t.Errorf("%v.RequiresAuth() = %v", k, k.RequiresAuth())
		}
	}
}

func TestEncode(t *testing.T) {
	id := "r9"
	b, err := EncodeOK("ping", &id, map[string]bool{"pong": true})
	if err != nil {
		t.Fatalf("EncodeOK: %v", err)
	}
	if want := `{"type":"ok","request_type":"ping","data":{"pong":true},"request_id":"r9"}` + "\n"; string(b) != want {
		t.Errorf("EncodeOK = %s; want %s", b, want)
	}

	b = EncodeError(domain.NewError(domain.KindAuth, domain.CodeAuthRequired, "Authentication required"), nil)
	if want := `{"type":"error","code":"auth_required","message":"Authentication required","details":{}}` + "\n"; string(b) != want {
		t.Errorf("EncodeError = %s; want %s", b, want)
	}

	var hello map[string]any
	b = EncodeHello()
	if !strings.HasSuffix(string(b), "\n") {
		t.Fatal("expected newline terminated hello")
	}
	json.Unmarshal(b, &hello)
	if hello["type"] != "hello" || hello["protocol_version"] != float64(Version) {
		t.Errorf("unexpected hello: %v", hello)
	}
}

func TestEncodeError_UnmarshallableDetails(t *testing.T) {
	e := domain.NewError(domain.KindInternal, domain.CodeInternal, "boom").
		WithDetails(map[string]any{"ch": make(chan int)})
	b := EncodeError(e, nil)
	if !strings.Contains(string(b), `"code":"internal_error"`) {
		t.Fatalf("expected error envelope, got %s", b)
	}
}

func TestTimestamp(t *testing.T) {
	got := Timestamp(time.UnixMilli(1_700_000_000_250))
	if got != 1_700_000_000.25 {
		t.Errorf("Timestamp = %v", got)
	}
}
