package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/velia-net/rendezvous/internal/broker"
)

type messageKind string

const (
	kindAuth        messageKind = "auth"
	kindFindPartner messageKind = "find-partner"
	// kindSearch is the find-partner spelling used by older clients.
	kindSearch    messageKind = "search"
	kindSkip      messageKind = "skip"
	kindLeave     messageKind = "leave"
	kindChat      messageKind = "chat"
	kindOffer     messageKind = "offer"
	kindAnswer    messageKind = "answer"
	kindCandidate messageKind = "candidate"
)

// clientMessage is the inbound frame schema. The offer/answer/candidate
// payloads stay raw: the broker forwards the whole frame verbatim and never
// interprets them.
type clientMessage struct {
	Type messageKind `json:"type"`

	Token string `json:"token,omitempty"`

	Message   string          `json:"message,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return clientMessage{}, fmt.Errorf("invalid frame: %w", err)
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case kindAuth:
		if m.Token == "" {
			return fmt.Errorf("auth message missing token")
		}
	case kindFindPartner, kindSearch, kindSkip, kindLeave:
		// Control messages carry no payload; extra fields are ignored.
	case kindChat:
		if m.Message == "" {
			return fmt.Errorf("chat message missing message")
		}
	case kindOffer:
		if len(m.Offer) == 0 {
			return fmt.Errorf("offer message missing offer")
		}
	case kindAnswer:
		if len(m.Answer) == 0 {
			return fmt.Errorf("answer message missing answer")
		}
	case kindCandidate:
		if len(m.Candidate) == 0 {
			return fmt.Errorf("candidate message missing candidate")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// relayKind normalizes a relayable message kind, reporting false for control
// and auth kinds the server consumes itself.
func (m clientMessage) relayKind() (string, bool) {
	switch m.Type {
	case kindChat, kindOffer, kindAnswer, kindCandidate:
		return string(m.Type), true
	default:
		return "", false
	}
}

// Server-originated frame types.
const (
	typeAuthSuccess = "auth_success"
	typeAuthError   = "auth_error"
	typeError       = "error"
)

type serverMessage struct {
	Type string `json:"type"`

	// Partner is the counterpart's connection id on partner-found frames.
	Partner string `json:"partner,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func noticeMessage(n broker.Notice) serverMessage {
	msg := serverMessage{Type: string(n.Type)}
	if n.Type == broker.NoticePartnerFound {
		msg.Partner = n.Partner.String()
	}
	return msg
}
