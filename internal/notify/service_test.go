package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
)

type recordingSender struct {
	sent []EmailMessage
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestNotifyDeadLetterSendsAlert(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "ops@lanebird.io", nil)

	svc.NotifyDeadLetter(context.Background(), audit.DeadLetter{
		ID:          "dl-1",
		WorkspaceID: "ws-1",
		QueueName:   "classify",
		Reason:      "max attempts exceeded",
		Attempts:    6,
		Payload:     `{"job_type":"CLASSIFY"}`,
	})

	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.To != "ops@lanebird.io" {
		t.Errorf("to = %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "ws-1") {
		t.Errorf("subject missing workspace: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "max attempts exceeded") {
		t.Errorf("body missing reason: %q", msg.Body)
	}
}

func TestNotifyDeadLetterNoRecipientIsNoOp(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, "", nil)

	svc.NotifyDeadLetter(context.Background(), audit.DeadLetter{ID: "dl-1"})
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(sender.sent))
	}
}

func TestNotifyDeadLetterSendFailureIsSwallowed(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, "ops@lanebird.io", nil)

	// Must not panic or propagate.
	svc.NotifyDeadLetter(context.Background(), audit.DeadLetter{ID: "dl-1"})
}
