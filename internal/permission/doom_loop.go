package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is the number of identical calls in a row that counts
// as a loop.
const DoomLoopThreshold = 3

const doomLoopHistory = 10

// DoomLoopDetector tracks repeated tool calls per session.
type DoomLoopDetector struct {
	mu      sync.Mutex
	history map[string][]string // sessionID -> recent call hashes
}

// NewDoomLoopDetector creates a new doom loop detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{history: make(map[string][]string)}
}

// Check records a call and reports whether it completes a run of
// DoomLoopThreshold identical calls.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input json.RawMessage) bool {
	hash := hashCall(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.history[sessionID]
	loop := len(history) >= DoomLoopThreshold-1
	if loop {
		for _, h := range history[len(history)-(DoomLoopThreshold-1):] {
			if h != hash {
				loop = false
				break
			}
		}
	}

	history = append(history, hash)
	if len(history) > doomLoopHistory {
		history = history[len(history)-doomLoopHistory:]
	}
	d.history[sessionID] = history
	return loop
}

// hashCall normalises input so key order and spacing do not matter.
func hashCall(toolName string, input json.RawMessage) string {
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		v = string(input)
	}
	data, _ := json.Marshal(map[string]any{"tool": toolName, "input": v})
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Clear forgets the history of a session.
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionID)
}
