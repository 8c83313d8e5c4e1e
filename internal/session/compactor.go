package session

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/provider"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// Compaction defaults.
const (
	DefaultCompactionThreshold = 150000
	DefaultKeepRecent          = 6
	DefaultCharsPerToken       = 4.0
	summaryMaxTokens           = 2000
)

// Summarizer condenses a message prefix into text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []types.Message) (string, error)
}

// Compactor shortens a history once its estimated size passes Threshold.
// It keeps system messages and the last KeepRecent messages, and replaces
// everything else with one synthetic assistant summary.
type Compactor struct {
	Threshold     int
	KeepRecent    int
	CharsPerToken float64
	Summarizer    Summarizer
}

// NewCompactor builds a compactor from configuration. It returns nil when
// compaction is disabled.
func NewCompactor(cfg *types.CompactionConfig, summarizer Summarizer) *Compactor {
	c := &Compactor{
		Threshold:     DefaultCompactionThreshold,
		KeepRecent:    DefaultKeepRecent,
		CharsPerToken: DefaultCharsPerToken,
		Summarizer:    summarizer,
	}
	if cfg == nil {
		return c
	}
	if cfg.Disabled {
		return nil
	}
	if cfg.Threshold > 0 {
		c.Threshold = cfg.Threshold
	}
	if cfg.KeepRecent > 0 {
		c.KeepRecent = cfg.KeepRecent
	}
	if cfg.CharsPerToken > 0 {
		c.CharsPerToken = cfg.CharsPerToken
	}
	return c
}

// EstimateTokens approximates the token count of msgs from their character
// count.
func EstimateTokens(msgs []types.Message, charsPerToken float64) int {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	chars := 0
	for _, m := range msgs {
		for _, b := range m.Content {
			chars += len(b.Text) + len(b.Input) + len(b.Output) + len(b.Message) + len(b.Name)
		}
	}
	return int(float64(chars) / charsPerToken)
}

// Compact returns msgs unchanged and false when the estimate is within the
// threshold or there is nothing old enough to summarise. Otherwise it
// returns the compacted list and true.
func (c *Compactor) Compact(ctx context.Context, msgs []types.Message) ([]types.Message, bool, error) {
	if c == nil || EstimateTokens(msgs, c.CharsPerToken) <= c.Threshold {
		return msgs, false, nil
	}

	cut := cutPoint(msgs, c.KeepRecent)
	var prefix, kept []types.Message
	for _, m := range msgs[:cut] {
		switch {
		case m.Role == types.RoleSystem:
			kept = append(kept, m)
		default:
			prefix = append(prefix, m)
		}
	}
	if !hasOriginal(prefix) {
		return msgs, false, nil
	}

	summarizer := c.Summarizer
	if summarizer == nil {
		summarizer = HeuristicSummarizer{}
	}
	summary, err := summarizer.Summarize(ctx, prefix)
	if err != nil {
		return msgs, false, fmt.Errorf("failed to summarize history: %w", err)
	}

	boundary := msgs[cut]
	out := make([]types.Message, 0, len(kept)+1+len(msgs)-cut)
	out = append(out, kept...)
	out = append(out, types.Message{
		ID:        "compaction-" + boundary.ID,
		Role:      types.RoleAssistant,
		Content:   []types.ContentBlock{types.NewTextBlock(summary)},
		Timestamp: boundary.Timestamp,
		Status:    types.MessageComplete,
		Synthetic: true,
	})
	out = append(out, msgs[cut:]...)

	logging.Info().
		Int("summarized", len(prefix)).
		Int("kept", len(msgs)-cut).
		Str("boundary", boundary.ID).
		Msg("history compacted")
	return out, true, nil
}

// cutPoint returns the index of the first message kept verbatim. It starts
// keepRecent messages from the end and moves backward while a kept
// tool_result answers a tool_use before the cut.
func cutPoint(msgs []types.Message, keepRecent int) int {
	if keepRecent < 1 {
		keepRecent = 1
	}
	cut := len(msgs) - keepRecent
	if cut <= 0 {
		return 0
	}

	origin := make(map[string]int)
	for i, m := range msgs {
		for _, b := range m.Content {
			if b.Type == types.BlockToolUse {
				origin[b.ID] = i
			}
		}
	}
	for moved := true; moved && cut > 0; {
		moved = false
		for _, m := range msgs[cut:] {
			for id := range types.ToolResultIDs(m.Content) {
				if j, ok := origin[id]; ok && j < cut {
					cut = j
					moved = true
				}
			}
		}
	}
	return cut
}

// hasOriginal reports whether msgs holds anything besides an earlier
// summary, so summarising it again would not be a no-op rewrite.
func hasOriginal(msgs []types.Message) bool {
	for _, m := range msgs {
		if !m.Synthetic {
			return true
		}
	}
	return false
}

// Boundary finds the summary inserted by Compact and returns its text and
// the id of the first message after it.
func Boundary(compacted []types.Message) (summary, boundaryID string, ok bool) {
	for i := len(compacted) - 2; i >= 0; i-- {
		m := compacted[i]
		if m.Synthetic && m.ID == "compaction-"+compacted[i+1].ID {
			return types.PlainText(m.Content), compacted[i+1].ID, true
		}
	}
	return "", "", false
}

// HeuristicSummarizer summarises without a model call: the user requests,
// the tools used and the files they touched, and the last assistant reply.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, msgs []types.Message) (string, error) {
	var requests []string
	toolCounts := make(map[string]int)
	files := make(map[string]bool)
	var lastReply string

	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			if text := strings.TrimSpace(types.PlainText(m.Content)); text != "" {
				requests = append(requests, truncate(firstLine(text), 120))
			}
		case types.RoleAssistant:
			if text := strings.TrimSpace(types.PlainText(m.Content)); text != "" {
				lastReply = text
			}
			for _, b := range types.ToolUses(m.Content) {
				toolCounts[b.Name]++
				for _, field := range []string{"filePath", "path", "file"} {
					if p := gjson.GetBytes(b.Input, field).String(); p != "" {
						files[p] = true
					}
				}
			}
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Summary of %d earlier messages.\n", len(msgs))
	if len(requests) > 0 {
		sb.WriteString("\nUser requests:\n")
		for _, r := range requests {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(toolCounts) > 0 {
		sb.WriteString("\nTools used:")
		for _, name := range sortedKeys(toolCounts) {
			fmt.Fprintf(&sb, " %s (%d)", name, toolCounts[name])
		}
		sb.WriteString("\n")
	}
	if len(files) > 0 {
		sb.WriteString("\nFiles touched:\n")
		for _, f := range sortedKeys(files) {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if lastReply != "" {
		fmt.Fprintf(&sb, "\nLast reply: %s\n", truncate(lastReply, 500))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

const summarySystemPrompt = `You summarize coding-assistant conversations so the work can continue in a fresh context.
Keep: the user's goals, decisions made, files read or modified, commands run and their outcome, open problems and next steps.
Be concise. Output only the summary.`

// ProviderSummarizer asks a model for the summary. When the model fails and
// Fallback is set, the fallback's summary is used instead.
type ProviderSummarizer struct {
	Provider provider.Provider
	Model    string
	Fallback Summarizer
}

func (s *ProviderSummarizer) Summarize(ctx context.Context, msgs []types.Message) (string, error) {
	summary, err := s.ask(ctx, msgs)
	if err != nil && s.Fallback != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Str("provider", s.Provider.ID()).Msg("model summary failed, using fallback")
		return s.Fallback.Summarize(ctx, msgs)
	}
	return summary, err
}

func (s *ProviderSummarizer) ask(ctx context.Context, msgs []types.Message) (string, error) {
	stream := s.Provider.Chat(ctx, &provider.ChatRequest{
		Model:        s.Model,
		SystemPrompt: summarySystemPrompt,
		MaxTokens:    summaryMaxTokens,
		Messages: []types.Message{{
			ID:      "summary-request",
			Role:    types.RoleUser,
			Content: []types.ContentBlock{types.NewTextBlock(transcript(msgs))},
		}},
	})
	defer stream.Close()

	var sb strings.Builder
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case types.EventContentBlockDelta:
			if ev.Delta != nil && ev.Delta.Type == types.DeltaText {
				sb.WriteString(ev.Delta.Text)
			}
		case types.EventErrorType:
			if ev.Error.ToolUseID == "" {
				return "", ev.Error
			}
		}
	}
	summary := strings.TrimSpace(sb.String())
	if summary == "" {
		return "", fmt.Errorf("model returned an empty summary")
	}
	return summary, nil
}

// transcript renders messages as plain text for a summarising model.
func transcript(msgs []types.Message) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation:\n\n")
	for _, m := range msgs {
		for _, b := range m.Content {
			switch b.Type {
			case types.BlockText:
				fmt.Fprintf(&sb, "[%s] %s\n", m.Role, b.Text)
			case types.BlockToolUse:
				fmt.Fprintf(&sb, "[%s called %s] %s\n", m.Role, b.Name, truncate(string(b.Input), 500))
			case types.BlockToolResult:
				fmt.Fprintf(&sb, "[tool result] %s\n", truncate(b.Output, 1000))
			}
		}
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
