package protocol

import (
	"strings"
	"testing"
)

func TestParse_ValidMessages(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Kind
	}{
		{"join", `{"type":"join","roomId":"r1","userId":"u1"}`, KindJoin},
		{"room-users", `{"type":"room-users","users":["u1"]}`, KindRoomUsers},
		{"room-users empty", `{"type":"room-users"}`, KindRoomUsers},
		{"user-joined", `{"type":"user-joined","userId":"u2"}`, KindUserJoined},
		{"user-left", `{"type":"user-left","userId":"u2"}`, KindUserLeft},
		{"offer", `{"type":"offer","roomId":"r1","userId":"u1","offer":{"type":"offer","sdp":"A"}}`, KindOffer},
		{"answer", `{"type":"answer","roomId":"r1","userId":"u2","answer":{"type":"answer","sdp":"B"}}`, KindAnswer},
		{"candidate", `{"type":"ice-candidate","roomId":"r1","userId":"u1","candidate":{"candidate":"c"}}`, KindICECandidate},
		{"ping", `{"type":"ping"}`, KindPing},
		{"pong", `{"type":"pong"}`, KindPong},
		{"error", `{"type":"error","message":"room is full"}`, KindError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Parse([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Parse(%s): %v", tc.raw, err)
			}
			if msg.Type != tc.want {
				t.Fatalf("Type=%q, want %q", msg.Type, tc.want)
			}
		})
	}
}

func TestParse_RejectsInvalidMessages(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"not json", `{`, "unexpected EOF"},
		{"unknown type", `{"type":"shout"}`, "unsupported message type"},
		{"unknown field", `{"type":"ping","volume":11}`, "unknown field"},
		{"trailing data", `{"type":"ping"}{"type":"ping"}`, "trailing data"},
		{"trailing garbage", `{"type":"ping"} %%`, "invalid character"},
		{"join without room", `{"type":"join","userId":"u1"}`, "missing roomId"},
		{"join without user", `{"type":"join","roomId":"r1"}`, "missing roomId/userId"},
		{"offer without payload", `{"type":"offer","roomId":"r1","userId":"u1"}`, "missing offer"},
		{"offer without scope", `{"type":"offer","offer":{}}`, "missing roomId/userId"},
		{"answer without payload", `{"type":"answer","roomId":"r1","userId":"u2"}`, "missing answer"},
		{"candidate without payload", `{"type":"ice-candidate","roomId":"r1","userId":"u1"}`, "missing candidate"},
		{"ping with baggage", `{"type":"ping","roomId":"r1"}`, "unexpected fields"},
		{"error without message", `{"type":"error"}`, "missing message"},
		{"join with offer", `{"type":"join","roomId":"r1","userId":"u1","offer":{}}`, "unexpected fields"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			if err == nil {
				t.Fatalf("Parse(%s) succeeded, want error containing %q", tc.raw, tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Parse(%s) err=%q, want substring %q", tc.raw, err, tc.wantErr)
			}
		})
	}
}

func TestParse_PayloadsStayOpaque(t *testing.T) {
	raw := `{"type":"offer","roomId":"r1","userId":"u1","offer":{"type":"offer","sdp":"v=0 garbage the relay must not care about"}}`
	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	reparsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse(Encode(msg)): %v", err)
	}
	if string(reparsed.Offer) != string(msg.Offer) {
		t.Fatalf("offer payload changed across encode: %s != %s", reparsed.Offer, msg.Offer)
	}
}

func TestRelayed(t *testing.T) {
	relayed := []Kind{KindOffer, KindAnswer, KindICECandidate}
	for _, k := range relayed {
		if !(&Message{Type: k}).Relayed() {
			t.Errorf("%s should be relayed", k)
		}
	}
	for _, k := range []Kind{KindJoin, KindPing, KindPong, KindError, KindRoomUsers, KindUserJoined, KindUserLeft} {
		if (&Message{Type: k}).Relayed() {
			t.Errorf("%s should not be relayed", k)
		}
	}
}
