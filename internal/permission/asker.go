package permission

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/opencode-ai/codeagent/internal/event"
)

// Asker brokers interactive permission questions. A question stays pending
// until Respond answers it or the asking context ends.
type Asker struct {
	bus *event.Bus

	mu       sync.Mutex
	approved map[string]map[Kind][]string // sessionID -> kind -> approved targets and bash patterns
	pending  map[string]*Pending          // requestID -> question
}

// NewAsker creates an asker. bus may be nil.
func NewAsker(bus *event.Bus) *Asker {
	return &Asker{
		bus:      bus,
		approved: make(map[string]map[Kind][]string),
		pending:  make(map[string]*Pending),
	}
}

// Pending is one open question.
type Pending struct {
	Request Request

	asker      *Asker
	ch         chan Response
	remembered bool
}

// Remembered reports whether an earlier "always" answer already covers the
// request; Wait then returns immediately.
func (p *Pending) Remembered() bool { return p.remembered }

// Wait blocks until the question is answered or ctx ends. A rejection yields
// false with a nil error.
func (p *Pending) Wait(ctx context.Context) (bool, error) {
	if p.remembered {
		return true, nil
	}
	defer p.asker.drop(p.Request.ID)

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case resp := <-p.ch:
		switch resp.Action {
		case ResponseOnce:
			return true, nil
		case ResponseAlways:
			p.asker.remember(p.Request)
			return true, nil
		}
		return false, nil
	}
}

// Begin registers a question and announces it on the bus. Callers that need
// to show the question themselves use the returned ID before calling Wait.
func (a *Asker) Begin(req Request) *Pending {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	p := &Pending{Request: req, asker: a, ch: make(chan Response, 1)}

	a.mu.Lock()
	if a.covered(req.SessionID, req.Kind, req.Target) {
		a.mu.Unlock()
		p.remembered = true
		return p
	}
	a.pending[req.ID] = p
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(event.Event{
			Type: event.PermissionAsked,
			Data: event.PermissionAskedData{
				ID:         req.ID,
				SessionID:  req.SessionID,
				Permission: string(req.Kind),
				Target:     req.Target,
				Title:      req.Title,
			},
		})
	}
	return p
}

// Ask is Begin followed by Wait.
func (a *Asker) Ask(ctx context.Context, req Request) (bool, error) {
	return a.Begin(req).Wait(ctx)
}

// Respond answers a pending question. It reports false when no question
// with that id is waiting.
func (a *Asker) Respond(requestID, action string) bool {
	a.mu.Lock()
	p, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}

	p.ch <- Response{RequestID: requestID, Action: action}

	if a.bus != nil {
		a.bus.Publish(event.Event{
			Type: event.PermissionResolved,
			Data: event.PermissionResolvedData{
				ID:        requestID,
				SessionID: p.Request.SessionID,
				Response:  action,
				Granted:   action == ResponseOnce || action == ResponseAlways,
			},
		})
	}
	return true
}

// PendingRequests lists unanswered questions for a session, or all when
// sessionID is empty.
func (a *Asker) PendingRequests(sessionID string) []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Request
	for _, p := range a.pending {
		if sessionID == "" || p.Request.SessionID == sessionID {
			out = append(out, p.Request)
		}
	}
	return out
}

func (a *Asker) drop(requestID string) {
	a.mu.Lock()
	delete(a.pending, requestID)
	a.mu.Unlock()
}

// remember records an "always" answer. For bash the patterns of the
// line's commands are kept too, so approving "git commit -m x" also
// approves later commits.
func (a *Asker) remember(req Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.approved[req.SessionID] == nil {
		a.approved[req.SessionID] = make(map[Kind][]string)
	}
	add := []string{req.Target}
	if req.Kind == KindBash {
		add = append(add, BuildPatterns(bashCommands(req.Target))...)
	}
	list := a.approved[req.SessionID][req.Kind]
	for _, s := range add {
		if !slices.Contains(list, s) {
			list = append(list, s)
		}
	}
	a.approved[req.SessionID][req.Kind] = list
}

// covered must be called with mu held.
func (a *Asker) covered(sessionID string, kind Kind, target string) bool {
	list := a.approved[sessionID][kind]
	if slices.Contains(list, target) {
		return true
	}
	if kind != KindBash || len(list) == 0 {
		return false
	}
	matched := 0
	for _, cmd := range bashCommands(target) {
		if cmd.Name == "cd" {
			continue
		}
		if !slices.ContainsFunc(list, func(p string) bool { return MatchPattern(p, cmd) }) {
			return false
		}
		matched++
	}
	return matched > 0
}

// IsApproved reports whether an "always" answer covers kind and target.
func (a *Asker) IsApproved(sessionID string, kind Kind, target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.covered(sessionID, kind, target)
}

// ClearSession forgets approvals for a session.
func (a *Asker) ClearSession(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.approved, sessionID)
}
