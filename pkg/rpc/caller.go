package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
)

// pendingCalls maps callbackIds to the channel their reply is delivered on.
// An entry is removed by whichever of reply and timeout comes first.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]chan protocol.BackPayload
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]chan protocol.BackPayload)}
}

func (p *pendingCalls) add(id string) <-chan protocol.BackPayload {
	ch := make(chan protocol.BackPayload, 1)
	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) remove(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

// settle delivers back to the call waiting on id
func (p *pendingCalls) settle(id string, back protocol.BackPayload) bool {
	if id == "" {
		return false
	}
	p.mu.Lock()
	ch, ok := p.calls[id]
	delete(p.calls, id)
	p.mu.Unlock()
	if ok {
		ch <- back
	}
	return ok
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Pending returns the number of calls waiting for a reply
func (r *Router) Pending() int {
	return r.pending.len()
}

// Call sends an RPC_CALL to device and waits for its RPC_BACK. The returned
// error is a *protocol.Error with CodeTimeout when no reply came within the
// call timeout, CodeSendFailed when the transport refused the envelope, or
// ctx's error. A reply with a non-success retCode is returned as is.
func (r *Router) Call(ctx context.Context, device string, call protocol.CallPayload) (*protocol.BackPayload, error) {
	id := uuid.NewString()
	env, err := protocol.NewCall(r.cfg.Self, device, id, call)
	if err != nil {
		return nil, err
	}

	replyCh := r.pending.add(id)
	r.metrics.RPCPendingCalls.Inc()
	defer r.metrics.RPCPendingCalls.Dec()

	if err := r.sender.Send(env); err != nil {
		r.pending.remove(id)
		r.metrics.RecordOutboundCall(call.CmdName, protocol.CodeSendFailed)
		return nil, protocol.Errorf(protocol.CodeSendFailed, "send to %s: %v", device, err)
	}

	timer := time.NewTimer(r.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case back := <-replyCh:
		r.metrics.RecordOutboundCall(call.CmdName, back.RetCode)
		return &back, nil
	case <-timer.C:
		r.pending.remove(id)
		r.metrics.RecordOutboundCall(call.CmdName, protocol.CodeTimeout)
		r.logger.Debug("call timed out",
			logging.Instance(device),
			logging.Command(call.CmdName),
			logging.CallbackID(id))
		return nil, protocol.Timeout(device)
	case <-ctx.Done():
		r.pending.remove(id)
		return nil, ctx.Err()
	}
}
