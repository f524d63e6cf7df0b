package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"lovepage-backend/internal/queue"
)

// Applier applies the plan upgrade for a recorded payment.
type Applier interface {
	Apply(ctx context.Context, paymentID string) (string, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingPaymentID indicates a message missing the payment id.
type ErrMissingPaymentID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingPaymentID) Error() string { return "missing payment id" }

// ErrProcess indicates the upgrade failed after successful parsing.
// Permanent is set when redelivery cannot help.
type ErrProcess struct {
	PaymentID string
	RequestID string
	Permanent bool
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "apply upgrade"
	}
	return "apply upgrade: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Unrecoverable reports whether err means the message should be dropped
// rather than redelivered.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingPaymentID
		proc    ErrProcess
	)
	switch {
	case errors.As(err, &empty), errors.As(err, &decode), errors.As(err, &missing):
		return true
	case errors.As(err, &proc):
		return proc.Permanent
	default:
		return false
	}
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.PaymentID) == "" {
		return msg, meta, ErrMissingPaymentID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses, validates, and applies an upgrade message. It
// returns the upgrade result on success.
func HandleMessage(ctx context.Context, applier Applier, permanent func(error) bool, body string) (string, error) {
	if applier == nil {
		return "", errors.New("upgrade applier not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return "", err
		}
	}

	if strings.TrimSpace(msg.PaymentID) == "" {
		return "", ErrMissingPaymentID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	result, err := applier.Apply(ctx, msg.PaymentID)
	if err != nil {
		return "", ErrProcess{
			PaymentID: msg.PaymentID,
			RequestID: msg.RequestID,
			Permanent: permanent != nil && permanent(err),
			Err:       err,
		}
	}
	return result, nil
}
