package workerproc

import (
	"context"
	"errors"
	"testing"

	"lovepage-backend/internal/queue"
)

type fakeApplier struct {
	calls []string
	err   error
}

func (f *fakeApplier) Apply(ctx context.Context, paymentID string) (string, error) {
	f.calls = append(f.calls, paymentID)
	if f.err != nil {
		return "", f.err
	}
	return "applied", nil
}

var errGone = errors.New("gone")

func isGone(err error) bool { return errors.Is(err, errGone) }

func encode(t *testing.T, msg queue.Message) string {
	t.Helper()
	body, err := queue.EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return string(body)
}

func TestParseMessageRejections(t *testing.T) {
	if _, _, err := ParseMessage("   "); !errors.As(err, new(ErrEmptyBody)) {
		t.Fatalf("expected ErrEmptyBody, got %v", err)
	}
	_, meta, err := ParseMessage("{bad")
	if !errors.As(err, new(ErrDecode)) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if meta.BodyLen != 4 || len(meta.BodySHA) != 64 {
		t.Fatalf("unexpected meta %+v", meta)
	}
	var missing ErrMissingPaymentID
	if _, _, err := ParseMessage(`{"requestId":"req-1"}`); !errors.As(err, &missing) || missing.RequestID != "req-1" {
		t.Fatalf("expected ErrMissingPaymentID with request id, got %v", err)
	}
}

func TestHandleMessageAppliesUpgrade(t *testing.T) {
	applier := &fakeApplier{}
	body := encode(t, queue.Message{PaymentID: "pay_1", AccountID: "acct-1", PlanID: "love-spark"})

	result, err := HandleMessage(context.Background(), applier, isGone, body)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result != "applied" || len(applier.calls) != 1 || applier.calls[0] != "pay_1" {
		t.Fatalf("unexpected result=%q calls=%v", result, applier.calls)
	}
}

func TestHandleMessageUsesParsedMessage(t *testing.T) {
	applier := &fakeApplier{}
	ctx := WithParsedMessage(context.Background(), queue.Message{PaymentID: "pay_ctx"})
	if _, err := HandleMessage(ctx, applier, nil, "ignored"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if applier.calls[0] != "pay_ctx" {
		t.Fatalf("expected parsed message to be used, got %v", applier.calls)
	}
}

func TestHandleMessageClassifiesFailures(t *testing.T) {
	body := encode(t, queue.Message{PaymentID: "pay_1", RequestID: "req-1"})

	_, err := HandleMessage(context.Background(), &fakeApplier{err: errors.New("store down")}, isGone, body)
	var proc ErrProcess
	if !errors.As(err, &proc) || proc.RequestID != "req-1" {
		t.Fatalf("expected ErrProcess, got %v", err)
	}
	if Unrecoverable(err) {
		t.Fatal("transient failures must be redelivered")
	}

	_, err = HandleMessage(context.Background(), &fakeApplier{err: errGone}, isGone, body)
	if !Unrecoverable(err) || !errors.Is(err, errGone) {
		t.Fatalf("expected permanent failure, got %v", err)
	}

	_, err = HandleMessage(context.Background(), &fakeApplier{}, isGone, "{bad")
	if !Unrecoverable(err) {
		t.Fatalf("decode failures are unrecoverable, got %v", err)
	}

	if _, err := HandleMessage(context.Background(), nil, isGone, body); err == nil {
		t.Fatal("expected error without applier")
	}
}
