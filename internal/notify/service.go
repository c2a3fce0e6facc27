package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/lanebird/inbox-ai-platform/internal/audit"
	"github.com/lanebird/inbox-ai-platform/pkg/logging"
)

// Service sends pipeline alerts to the operations inbox.
type Service struct {
	sender  EmailSender
	alertTo string
	logger  *logging.Logger
}

// NewService creates an alert service. With an empty alertTo address
// every notification is a no-op.
func NewService(sender EmailSender, alertTo string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if sender == nil {
		sender = NewStubEmailSender(logger)
	}
	return &Service{sender: sender, alertTo: strings.TrimSpace(alertTo), logger: logger}
}

// NotifyDeadLetter alerts operators that a job was dead-lettered.
// Best-effort: errors are logged, never propagated to the pipeline.
func (s *Service) NotifyDeadLetter(ctx context.Context, letter audit.DeadLetter) {
	if s == nil || s.alertTo == "" {
		return
	}

	subject := fmt.Sprintf("[triage] dead letter: workspace %s", letter.WorkspaceID)
	body := fmt.Sprintf(
		"A triage job exhausted its delivery attempts.\n\n"+
			"Dead letter ID: %s\nWorkspace:      %s\nQueue:          %s\nRun:            %s\nAttempts:       %d\nReason:         %s\n\nPayload:\n%s\n",
		letter.ID, letter.WorkspaceID, letter.QueueName, letter.RunID, letter.Attempts, letter.Reason, letter.Payload)

	if err := s.sender.Send(ctx, EmailMessage{
		To:      s.alertTo,
		Subject: subject,
		Body:    body,
	}); err != nil {
		s.logger.Error("dead letter alert failed", "error", err, "dead_letter_id", letter.ID)
		return
	}
	s.logger.Info("dead letter alert sent", "dead_letter_id", letter.ID, "to", s.alertTo)
}
