package triage

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	JobTypeClassify = "CLASSIFY"
	JobTypeDraft    = "DRAFT"
)

// ClassifyJob is the queue payload asking the pipeline to classify one
// inbound message.
type ClassifyJob struct {
	JobType         string `json:"job_type"`
	WorkspaceID     string `json:"workspace_id"`
	RunID           string `json:"run_id,omitempty"`
	ConfigID        string `json:"config_id,omitempty"`
	Channel         string `json:"channel,omitempty"`
	EventID         string `json:"event_id"`
	ConversationID  string `json:"conversation_id"`
	TargetMessageID string `json:"target_message_id"`
}

// DecodeClassifyJob parses and validates a classify job payload.
func DecodeClassifyJob(body string) (ClassifyJob, error) {
	var job ClassifyJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return ClassifyJob{}, fmt.Errorf("triage: failed to decode classify job: %w", err)
	}
	if job.JobType != JobTypeClassify {
		return ClassifyJob{}, fmt.Errorf("triage: unexpected job type %q", job.JobType)
	}
	if job.WorkspaceID == "" {
		return ClassifyJob{}, errors.New("triage: classify job missing workspace_id")
	}
	if job.ConversationID == "" {
		return ClassifyJob{}, errors.New("triage: classify job missing conversation_id")
	}
	if job.TargetMessageID == "" {
		return ClassifyJob{}, errors.New("triage: classify job missing target_message_id")
	}
	if job.EventID == "" {
		job.EventID = job.TargetMessageID
	}
	return job, nil
}

// DraftJob is the downstream payload asking the draft pipeline to write
// a suggested reply.
type DraftJob struct {
	JobType         string `json:"job_type"`
	WorkspaceID     string `json:"workspace_id"`
	RunID           string `json:"run_id,omitempty"`
	ConversationID  string `json:"conversation_id"`
	TargetMessageID string `json:"target_message_id"`
	EventID         string `json:"event_id,omitempty"`
}

// Encode serializes the draft job for the queue.
func (j DraftJob) Encode() (string, error) {
	j.JobType = JobTypeDraft
	body, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("triage: failed to encode draft job: %w", err)
	}
	return string(body), nil
}
