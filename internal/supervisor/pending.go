package supervisor

import (
	"encoding/json"
	"time"
)

// outcome is how a pending request settled.
type outcome struct {
	payload json.RawMessage
	err     error
}

// pendingRequest is one in-flight RequestTool call. Whoever removes it
// from the table owns settling it.
type pendingRequest struct {
	id      string
	tool    string
	started time.Time
	timer   *time.Timer
	done    chan outcome
}

func newPendingRequest(id, tool string) *pendingRequest {
	return &pendingRequest{
		id:      id,
		tool:    tool,
		started: time.Now(),
		done:    make(chan outcome, 1),
	}
}

// settle delivers o. Only the remover of the entry calls it, so the
// buffered send never blocks.
func (p *pendingRequest) settle(o outcome) {
	p.done <- o
}

// pendingTable maps request ids to in-flight requests. Callers hold s.mu.
type pendingTable map[string]*pendingRequest

// take removes id and stops its timer.
func (t pendingTable) take(id string) (*pendingRequest, bool) {
	p, ok := t[id]
	if !ok {
		return nil, false
	}
	delete(t, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p, true
}

// drain removes every entry and stops every timer.
func (t pendingTable) drain() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(t))
	for id := range t {
		p, _ := t.take(id)
		out = append(out, p)
	}
	return out
}
