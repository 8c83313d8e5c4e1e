package types

import "encoding/json"

// BlockType discriminates the ContentBlock union.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	BlockThinking   BlockType = "thinking"
	BlockError      BlockType = "error"
)

// ToolStatus tracks the lifecycle of a tool_use block.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
	ToolCancelled ToolStatus = "cancelled"
)

// ContentBlock is one element of a message body. Only the fields belonging to
// Type are populated:
//
//	text        Text
//	tool_use    ID, Name, Input, Status
//	tool_result ToolUseID, Output, IsError
//	thinking    Text
//	error       Message, Code
type ContentBlock struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Status ToolStatus      `json:"status,omitempty"`

	ToolUseID string `json:"toolUseId,omitempty"`
	Output    string `json:"output,omitempty"`
	IsError   bool   `json:"isError,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// NewTextBlock returns a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewThinkingBlock returns a thinking block.
func NewThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Text: text}
}

// NewToolUseBlock returns a pending tool_use block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input, Status: ToolPending}
}

// NewToolResultBlock returns a tool_result block answering toolUseID.
func NewToolResultBlock(toolUseID, output string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Output: output, IsError: isError}
}

// NewErrorBlock returns an error block.
func NewErrorBlock(message, code string) ContentBlock {
	return ContentBlock{Type: BlockError, Message: message, Code: code}
}

// ToolUses returns the tool_use blocks of a message body in order.
func ToolUses(blocks []ContentBlock) []ContentBlock {
	var out []ContentBlock
	for _, b := range blocks {
		if b.Type == BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

// ToolResultIDs returns the set of tool_use ids answered in a message body.
func ToolResultIDs(blocks []ContentBlock) map[string]bool {
	ids := make(map[string]bool)
	for _, b := range blocks {
		if b.Type == BlockToolResult {
			ids[b.ToolUseID] = true
		}
	}
	return ids
}

// PlainText concatenates the text blocks of a message body.
func PlainText(blocks []ContentBlock) string {
	var s string
	for _, b := range blocks {
		if b.Type == BlockText {
			s += b.Text
		}
	}
	return s
}
