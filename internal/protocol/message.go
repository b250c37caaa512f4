// Package protocol defines the JSON messages exchanged over the websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the payload carried in Message.Data.
type MessageType string

const (
	// Client to server
	TypeAuth            MessageType = "auth"
	TypeSubscribe       MessageType = "subscribe"
	TypeGetCurrentRound MessageType = "get_current_round"
	TypePlaceBet        MessageType = "place_bet"
	TypeGetBalance      MessageType = "get_balance"
	TypeGetHistory      MessageType = "get_history"

	// Server to client
	TypeAuthResponse MessageType = "auth_response"
	TypeCurrentRound MessageType = "current_round"
	TypeBetPlaced    MessageType = "bet_placed"
	TypeBalance      MessageType = "balance"
	TypeHistory      MessageType = "history"
	TypeError        MessageType = "error"

	// Server push events
	TypeRoundUpdate MessageType = "round.update"
	TypeRoundResult MessageType = "round.result"
	TypeTimerUpdate MessageType = "timer.update"
	TypeBetSettled  MessageType = "bet.settled"
)

func (mt MessageType) String() string {
	return string(mt)
}

// Message is the envelope for every frame. RequestID is echoed on the
// reply to a request.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage wraps data in an envelope stamped with the current time.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", messageType, err)
		}
		raw = b
	}
	return &Message{Type: messageType, Data: raw, Timestamp: time.Now()}, nil
}

// Reply builds a response to m carrying its request ID.
func (m *Message) Reply(messageType MessageType, data any) (*Message, error) {
	reply, err := NewMessage(messageType, data)
	if err != nil {
		return nil, err
	}
	reply.RequestID = m.RequestID
	return reply, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}
