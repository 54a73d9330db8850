package signaling

import (
	"testing"

	"github.com/google/uuid"

	"github.com/velia-net/rendezvous/internal/broker"
)

func TestParseClientMessage_Valid(t *testing.T) {
	cases := []struct {
		name string
		data string
		kind messageKind
	}{
		{name: "auth", data: `{"type":"auth","token":"abc"}`, kind: kindAuth},
		{name: "find-partner", data: `{"type":"find-partner"}`, kind: kindFindPartner},
		{name: "search alias", data: `{"type":"search"}`, kind: kindSearch},
		{name: "skip", data: `{"type":"skip"}`, kind: kindSkip},
		{name: "leave", data: `{"type":"leave"}`, kind: kindLeave},
		{name: "chat", data: `{"type":"chat","message":"hello"}`, kind: kindChat},
		{name: "offer", data: `{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`, kind: kindOffer},
		{name: "answer", data: `{"type":"answer","answer":{"type":"answer","sdp":"v=0"}}`, kind: kindAnswer},
		{name: "candidate", data: `{"type":"candidate","candidate":{"candidate":"..."}}`, kind: kindCandidate},
		// Older clients include routing hints the server ignores.
		{name: "chat with extra fields", data: `{"type":"chat","message":"hi","targetId":"x"}`, kind: kindChat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := parseClientMessage([]byte(tc.data))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if msg.Type != tc.kind {
				t.Fatalf("kind=%q, want %q", msg.Type, tc.kind)
			}
		})
	}
}

func TestParseClientMessage_Invalid(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{name: "not json", data: `not json`},
		{name: "empty object", data: `{}`},
		{name: "unknown type", data: `{"type":"broadcast"}`},
		{name: "auth without token", data: `{"type":"auth"}`},
		{name: "chat without message", data: `{"type":"chat"}`},
		{name: "offer without payload", data: `{"type":"offer"}`},
		{name: "answer without payload", data: `{"type":"answer"}`},
		{name: "candidate without payload", data: `{"type":"candidate"}`},
		{name: "trailing data", data: `{"type":"skip"}{"type":"skip"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseClientMessage([]byte(tc.data)); err == nil {
				t.Fatalf("expected parse error for %s", tc.data)
			}
		})
	}
}

func TestRelayKind(t *testing.T) {
	relayable := []clientMessage{
		{Type: kindChat},
		{Type: kindOffer},
		{Type: kindAnswer},
		{Type: kindCandidate},
	}
	for _, m := range relayable {
		if _, ok := m.relayKind(); !ok {
			t.Fatalf("kind %q should be relayable", m.Type)
		}
	}
	for _, m := range []clientMessage{{Type: kindAuth}, {Type: kindFindPartner}, {Type: kindSkip}, {Type: kindLeave}} {
		if _, ok := m.relayKind(); ok {
			t.Fatalf("kind %q must not be relayable", m.Type)
		}
	}
}

func TestNoticeMessage_PartnerOnlyOnPartnerFound(t *testing.T) {
	id := uuid.New()

	msg := noticeMessage(broker.Notice{Type: broker.NoticePartnerFound, Partner: id})
	if msg.Type != "partner-found" || msg.Partner != id.String() {
		t.Fatalf("msg=%+v", msg)
	}

	msg = noticeMessage(broker.Notice{Type: broker.NoticeWaiting})
	if msg.Type != "waiting" || msg.Partner != "" {
		t.Fatalf("msg=%+v", msg)
	}
}
