package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/lanebird/inbox-ai-platform/internal/workspace"
)

// OracleItem is one pending message in a batched classification request.
type OracleItem struct {
	ItemID  string          `json:"item_id"`
	Channel string          `json:"channel,omitempty"`
	From    string          `json:"from"`
	Subject string          `json:"subject,omitempty"`
	Body    string          `json:"body"`
	History []ThreadMessage `json:"history,omitempty"`
}

// Oracle classifies a batch of messages for one workspace in a single
// call. Items absent from the returned map get the safe default; a
// returned error fails the whole batch and is retried via queue
// redelivery.
type Oracle interface {
	Name() string
	ClassifyBatch(ctx context.Context, wctx *workspace.Context, items []OracleItem) (map[string]RawResult, error)
}

// LLMOracle implements Oracle on top of a chat-completion LLMClient.
type LLMOracle struct {
	llm         LLMClient
	provider    string
	model       string
	maxTokens   int32
	temperature float32
}

// LLMOracleOption customizes the oracle.
type LLMOracleOption func(*LLMOracle)

// WithOracleMaxTokens caps the completion length.
func WithOracleMaxTokens(n int32) LLMOracleOption {
	return func(o *LLMOracle) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithOracleTemperature sets the sampling temperature.
func WithOracleTemperature(t float32) LLMOracleOption {
	return func(o *LLMOracle) {
		if t >= 0 {
			o.temperature = t
		}
	}
}

// NewLLMOracle builds a classification oracle around an LLM client.
func NewLLMOracle(llm LLMClient, provider, model string, opts ...LLMOracleOption) *LLMOracle {
	if llm == nil {
		panic("triage: llm client cannot be nil")
	}
	o := &LLMOracle{
		llm:         llm,
		provider:    provider,
		model:       model,
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *LLMOracle) Name() string {
	return o.provider
}

// ClassifyBatch sends every pending item for the workspace in one prompt
// and returns the per-item raw results keyed by item id.
func (o *LLMOracle) ClassifyBatch(ctx context.Context, wctx *workspace.Context, items []OracleItem) (map[string]RawResult, error) {
	if len(items) == 0 {
		return map[string]RawResult{}, nil
	}

	userPayload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("triage: failed to encode oracle items: %w", err)
	}

	resp, err := o.llm.Complete(ctx, LLMRequest{
		Model:       o.model,
		System:      []string{buildSystemPrompt(wctx)},
		Messages:    []ChatMessage{{Role: ChatRoleUser, Content: string(userPayload)}},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("triage: oracle completion failed: %w", err)
	}

	results, err := parseOracleResponse(resp.Text)
	if err != nil {
		return nil, err
	}
	return results, nil
}

const categoryGuide = `Categories (choose exactly one per message):
- quote: a request for pricing or an estimate. Usually requires_reply=true.
- booking: scheduling, rescheduling or cancelling an appointment. requires_reply=true.
- complaint: dissatisfaction with service or product. requires_reply=true; urgent complaints belong in the act_now bucket.
- follow_up: the customer is continuing an existing thread. requires_reply reflects whether they expect an answer.
- inquiry: any other genuine customer question. requires_reply=true.
- notification: automated transactional mail (receipts, shipping, system alerts). requires_reply=false, lane=done.
- newsletter: bulk marketing or editorial mail. requires_reply=false, lane=done.
- spam: unsolicited junk. requires_reply=false, lane=done.
- personal: private mail unrelated to the business. requires_reply=false, lane=done.
- misdirected: sent to the wrong business entirely. requires_reply=true so the sender can be redirected.

Lanes: to_reply (needs an answer), review (a human should look first), done (no action), snoozed (deliberately parked).
Use review instead of to_reply whenever your confidence is below 0.8.`

const outputContract = `Respond with ONLY a JSON object, no prose, in this shape:
{"results":[{"item_id":"...","category":"...","requires_reply":true,"confidence":0.0,"lane":"...","suggested_reply":"...","reasoning":"...","sentiment":"...","entities":{}}]}
Every input item_id must appear exactly once in results. confidence is a number between 0 and 1.`

func buildSystemPrompt(wctx *workspace.Context) string {
	var b strings.Builder
	b.WriteString("You are the message-triage classifier for a small business's shared inbox. Classify each inbound message.\n\n")

	if wctx != nil {
		if wctx.Name != "" {
			fmt.Fprintf(&b, "Business: %s", wctx.Name)
			if wctx.Industry != "" {
				fmt.Fprintf(&b, " (%s)", wctx.Industry)
			}
			b.WriteString("\n")
		}
		if rules := strings.TrimSpace(wctx.RulesText); rules != "" {
			b.WriteString("Business rules:\n")
			b.WriteString(rules)
			b.WriteString("\n")
		}
		if len(wctx.FAQs) > 0 {
			b.WriteString("\nKnowledge base:\n")
			for _, faq := range wctx.FAQs {
				fmt.Fprintf(&b, "Q: %s\nA: %s\n", faq.Question, faq.Answer)
			}
		}
		if len(wctx.Corrections) > 0 {
			b.WriteString("\nPast human corrections (follow these precedents):\n")
			for _, corr := range wctx.Corrections {
				fmt.Fprintf(&b, "- %q was corrected to category=%s requires_reply=%t", corr.MessageExcerpt, corr.CorrectedCategory, corr.RequiresReply)
				if corr.Note != "" {
					fmt.Fprintf(&b, " (%s)", corr.Note)
				}
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(categoryGuide)
	b.WriteString("\n\n")
	b.WriteString(outputContract)
	return b.String()
}

type oracleEnvelope struct {
	Results []RawResult `json:"results"`
}

// parseOracleResponse extracts the results object from a possibly
// fenced or prose-wrapped LLM response. Individual malformed items are
// tolerated; only an unrecoverable envelope is an error.
func parseOracleResponse(text string) (map[string]RawResult, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var envelope oracleEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("triage: oracle response decode failed: %w", err)
	}

	results := make(map[string]RawResult, len(envelope.Results))
	for _, raw := range envelope.Results {
		id := strings.TrimSpace(raw.ItemID)
		if id == "" {
			continue
		}
		results[id] = raw
	}
	return results, nil
}

// extractJSONObject pulls the first JSON object out of text that may be
// wrapped in code fences or prose, falling back to jsonrepair for
// near-JSON output.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("triage: oracle returned empty response")
	}

	candidate := text
	if fenced := stripCodeFence(candidate); fenced != "" {
		candidate = fenced
	}
	if start := strings.IndexByte(candidate, '{'); start >= 0 {
		if end := strings.LastIndexByte(candidate, '}'); end > start {
			candidate = candidate[start : end+1]
		}
	}

	var probe any
	if json.Unmarshal([]byte(candidate), &probe) == nil {
		return candidate, nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return "", fmt.Errorf("triage: oracle response is not JSON: %w", err)
	}
	if json.Unmarshal([]byte(repaired), &probe) != nil {
		return "", errors.New("triage: oracle response unrecoverable after repair")
	}
	return repaired, nil
}

func stripCodeFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// Skip a language tag like ```json.
		rest = rest[newline+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}
