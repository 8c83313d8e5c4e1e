package types

import (
	"encoding/json"
	"testing"
)

func TestContentBlock_JSONTags(t *testing.T) {
	block := NewToolUseBlock("call_1", "read", json.RawMessage(`{"path":"a.go"}`))

	data, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw["type"] != "tool_use" {
		t.Errorf("type mismatch: got %v", raw["type"])
	}
	if raw["status"] != "pending" {
		t.Errorf("status mismatch: got %v", raw["status"])
	}
	if _, ok := raw["toolUseId"]; ok {
		t.Error("toolUseId should be omitted on tool_use")
	}
	input, ok := raw["input"].(map[string]any)
	if !ok || input["path"] != "a.go" {
		t.Errorf("input should stay structured JSON, got %v", raw["input"])
	}
}

func TestDelta_JSONShape(t *testing.T) {
	ev := InputJSONDeltaEvent(2, `{"a":`)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw struct {
		Type  string         `json:"type"`
		Index int            `json:"index"`
		Delta map[string]any `json:"delta"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw.Type != "content_block_delta" || raw.Index != 2 {
		t.Errorf("unexpected envelope: %+v", raw)
	}
	if raw.Delta["type"] != "input_json_delta" || raw.Delta["partial_json"] != `{"a":` {
		t.Errorf("unexpected delta: %v", raw.Delta)
	}
}

func TestMessageDeltaEvent_ZeroUsage(t *testing.T) {
	ev := MessageDeltaEvent(StopEndTurn, nil)
	if ev.Usage == nil {
		t.Fatal("usage must never be nil on message_delta")
	}
	if ev.Usage.Total() != 0 {
		t.Errorf("expected zero usage, got %+v", ev.Usage)
	}

	data, _ := json.Marshal(ev)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["usage"]; !ok {
		t.Error("usage should be serialized even when zero")
	}
}

func TestEventError_Error(t *testing.T) {
	e := &EventError{Kind: ErrVendor, Message: "overloaded", Status: 529}
	if e.Error() != "vendor_error (529): overloaded" {
		t.Errorf("unexpected message: %s", e.Error())
	}
	e = &EventError{Kind: ErrTransport, Message: "reset"}
	if e.Error() != "transport_error: reset" {
		t.Errorf("unexpected message: %s", e.Error())
	}
}

func TestSession_History(t *testing.T) {
	s := Session{
		ID: "s1",
		Messages: []Message{
			{ID: "m0", Role: RoleSystem, Content: []ContentBlock{NewTextBlock("sys")}},
			{ID: "m1", Role: RoleUser, Content: []ContentBlock{NewTextBlock("one")}},
			{ID: "m2", Role: RoleAssistant, Content: []ContentBlock{NewTextBlock("two")}},
			{ID: "m3", Role: RoleUser, Content: []ContentBlock{NewTextBlock("three")}},
		},
	}

	if got := s.History(); len(got) != 4 {
		t.Fatalf("expected full history without compaction, got %d", len(got))
	}

	s.Compaction = &Compaction{Summary: "earlier stuff", BoundaryMessageID: "m3"}
	got := s.History()
	if len(got) != 3 {
		t.Fatalf("expected system + summary + boundary, got %d", len(got))
	}
	if got[0].ID != "m0" {
		t.Errorf("system prompt should be retained, got %s", got[0].ID)
	}
	if !got[1].Synthetic || got[1].Role != RoleAssistant || PlainText(got[1].Content) != "earlier stuff" {
		t.Errorf("unexpected summary message: %+v", got[1])
	}
	if got[2].ID != "m3" {
		t.Errorf("boundary message should follow summary, got %s", got[2].ID)
	}

	s.Compaction.BoundaryMessageID = "missing"
	if len(s.History()) != 4 {
		t.Error("unknown boundary should fall back to full history")
	}
}

func TestToolHelpers(t *testing.T) {
	blocks := []ContentBlock{
		NewTextBlock("a"),
		NewToolUseBlock("t1", "read", nil),
		NewTextBlock("b"),
		NewToolUseBlock("t2", "bash", nil),
		NewToolResultBlock("t1", "ok", false),
	}
	uses := ToolUses(blocks)
	if len(uses) != 2 || uses[0].ID != "t1" || uses[1].ID != "t2" {
		t.Errorf("unexpected tool uses: %+v", uses)
	}
	ids := ToolResultIDs(blocks)
	if !ids["t1"] || ids["t2"] {
		t.Errorf("unexpected result ids: %v", ids)
	}
	if PlainText(blocks) != "ab" {
		t.Errorf("unexpected plain text: %q", PlainText(blocks))
	}
}

func TestMessage_Clone(t *testing.T) {
	m := Message{ID: "m", Content: []ContentBlock{NewTextBlock("x")}, Usage: &Usage{InputTokens: 1}}
	c := m.Clone()
	c.Content[0].Text = "y"
	c.Usage.InputTokens = 9
	if m.Content[0].Text != "x" || m.Usage.InputTokens != 1 {
		t.Error("clone must not alias the original")
	}
}
