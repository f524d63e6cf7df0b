package queue

import "encoding/json"

// MessageVersion is the current upgrade message schema.
const MessageVersion = 1

// Message asks a worker to apply the plan bought with PaymentID.
type Message struct {
	PaymentID  string `json:"paymentId"`
	AccountID  string `json:"accountId"`
	PlanID     string `json:"planId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
