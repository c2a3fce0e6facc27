package triage

import (
	"context"
	"strings"
	"testing"

	"github.com/lanebird/inbox-ai-platform/internal/workspace"
)

type stubLLM struct {
	text    string
	err     error
	lastReq LLMRequest
}

func (s *stubLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.lastReq = req
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	return LLMResponse{Text: s.text}, nil
}

func TestClassifyBatchParsesCleanJSON(t *testing.T) {
	llm := &stubLLM{text: `{"results":[{"item_id":"m-1","category":"quote","requires_reply":true,"confidence":0.91,"lane":"to_reply"}]}`}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	results, err := oracle.ClassifyBatch(context.Background(), &workspace.Context{Name: "Harbor Plumbing"}, []OracleItem{
		{ItemID: "m-1", From: "jo@example.com", Body: "How much for a boiler swap?"},
	})
	if err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}
	raw, ok := results["m-1"]
	if !ok {
		t.Fatal("expected result for m-1")
	}
	if raw.Category != "quote" {
		t.Errorf("category = %q, want quote", raw.Category)
	}
	if raw.Confidence == nil || *raw.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", raw.Confidence)
	}
}

func TestClassifyBatchStripsCodeFences(t *testing.T) {
	llm := &stubLLM{text: "Here you go:\n```json\n{\"results\":[{\"item_id\":\"m-2\",\"category\":\"spam\",\"requires_reply\":false,\"confidence\":0.99,\"lane\":\"done\"}]}\n```"}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	results, err := oracle.ClassifyBatch(context.Background(), nil, []OracleItem{{ItemID: "m-2", From: "x@y.z", Body: "buy now"}})
	if err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}
	if results["m-2"].Category != "spam" {
		t.Errorf("category = %q, want spam", results["m-2"].Category)
	}
}

func TestClassifyBatchRepairsMalformedJSON(t *testing.T) {
	// Trailing comma and single quotes: near-JSON the repair pass handles.
	llm := &stubLLM{text: `{"results":[{"item_id":'m-3',"category":"booking","requires_reply":true,"confidence":0.85,"lane":"to_reply",},]}`}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	results, err := oracle.ClassifyBatch(context.Background(), nil, []OracleItem{{ItemID: "m-3", From: "a@b.c", Body: "reschedule please"}})
	if err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}
	if results["m-3"].Category != "booking" {
		t.Errorf("category = %q, want booking", results["m-3"].Category)
	}
}

func TestClassifyBatchOmitsBlankItemIDs(t *testing.T) {
	llm := &stubLLM{text: `{"results":[{"item_id":"","category":"spam","lane":"done"},{"item_id":"m-4","category":"inquiry","requires_reply":true,"confidence":0.7,"lane":"review"}]}`}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	results, err := oracle.ClassifyBatch(context.Background(), nil, []OracleItem{{ItemID: "m-4", From: "a@b.c", Body: "hello"}})
	if err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if _, ok := results["m-4"]; !ok {
		t.Error("expected m-4 to survive")
	}
}

func TestClassifyBatchUnrecoverableResponse(t *testing.T) {
	llm := &stubLLM{text: "I cannot classify these messages."}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	_, err := oracle.ClassifyBatch(context.Background(), nil, []OracleItem{{ItemID: "m-5", From: "a@b.c", Body: "hi"}})
	if err == nil {
		t.Fatal("expected error for prose-only response")
	}
}

func TestClassifyBatchEmptyItems(t *testing.T) {
	llm := &stubLLM{}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	results, err := oracle.ClassifyBatch(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d, want 0", len(results))
	}
	if llm.lastReq.Model != "" {
		t.Error("LLM should not be called for an empty batch")
	}
}

func TestSystemPromptCarriesWorkspaceContext(t *testing.T) {
	llm := &stubLLM{text: `{"results":[]}`}
	oracle := NewLLMOracle(llm, "gemini", "gemini-2.5-flash")

	wctx := &workspace.Context{
		Name:      "Harbor Plumbing",
		Industry:  "plumbing",
		RulesText: "Quotes get a reply within 2h.",
		FAQs:      []workspace.FAQEntry{{Question: "Do you serve Brooklyn?", Answer: "Yes."}},
		Corrections: []workspace.Correction{
			{MessageExcerpt: "re: invoice 992", CorrectedCategory: "follow_up", RequiresReply: true},
		},
	}
	if _, err := oracle.ClassifyBatch(context.Background(), wctx, []OracleItem{{ItemID: "m-6", From: "a@b.c", Body: "hi"}}); err != nil {
		t.Fatalf("ClassifyBatch returned error: %v", err)
	}

	if len(llm.lastReq.System) != 1 {
		t.Fatalf("len(System) = %d, want 1", len(llm.lastReq.System))
	}
	prompt := llm.lastReq.System[0]
	for _, want := range []string{"Harbor Plumbing", "plumbing", "Quotes get a reply within 2h.", "Do you serve Brooklyn?", "re: invoice 992", "misdirected"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}
