package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/opencode-ai/codeagent/internal/logging"
	"github.com/opencode-ai/codeagent/internal/wire"
	"github.com/opencode-ai/codeagent/pkg/types"
)

// statusError builds the terminal event for a non-2xx response.
func statusError(status int, body []byte) types.ChatEvent {
	kind := types.ErrVendor
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = types.ErrAuthentication
	}
	ev := types.ErrorEvent(kind, vendorMessage(status, body))
	ev.Error.Status = status
	return ev
}

// vendorMessage extracts the human readable message from an error body.
// Anthropic, OpenAI and Ollama each nest it differently.
func vendorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return msg
	}
	return fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
}

// classifyStreamEnd maps the reason a body read stopped to an error kind and
// message. parent is the caller's context, stream the watchdog-derived one.
func classifyStreamEnd(parent, stream context.Context, err error) (types.ErrorKind, string) {
	if parent.Err() != nil {
		return types.ErrCancelled, "request cancelled"
	}
	if stream.Err() != nil && errors.Is(context.Cause(stream), wire.ErrIdleTimeout) {
		return types.ErrTransport, wire.ErrIdleTimeout.Error()
	}
	if err == nil {
		return types.ErrTransport, "stream ended before the message was complete"
	}
	return types.ErrTransport, err.Error()
}

func logDropped(providerID, reason, raw string) {
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	logging.Debug().
		Str("provider", providerID).
		Str("reason", reason).
		Str("raw", raw).
		Msg("dropped stream unit")
}
