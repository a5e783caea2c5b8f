// Package rpc validates, routes and correlates RPC envelopes. Inbound
// RPC_CALLs are dispatched to a closed set of named handlers; RPC_BACKs
// settle calls this node issued.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/logging"
	"github.com/dd0wney/cluso-monitor/pkg/metrics"
	"github.com/dd0wney/cluso-monitor/pkg/protocol"
	"github.com/dd0wney/cluso-monitor/pkg/validation"
)

// Handler serves one command. Returning is the completion: the router
// replies with the result when the call carried a callbackId. Handlers run
// on the inbound loop, so they must not wait on a Call of their own.
type Handler func(ctx context.Context, params json.RawMessage) protocol.Result

// SelfReportHandler receives device-status messages
type SelfReportHandler func(ctx context.Context, report *validation.SelfReport)

// Sender is the outbound half of the transport
type Sender interface {
	Send(env *protocol.Envelope) error
}

// Config configures a Router
type Config struct {
	// Self is this node's device UUID
	Self string
	// CallTimeout bounds how long Call waits for an RPC_BACK (default: 10s)
	CallTimeout time.Duration
}

// DefaultCallTimeout is used when Config.CallTimeout is zero
const DefaultCallTimeout = 10 * time.Second

// Router dispatches inbound envelopes and correlates replies.
//
// Concurrent Safety:
// 1. Handlers are registered before Serve starts; the table is read-locked
// 2. The pending table has its own lock; a callbackId settles at most once
// 3. Inbound statistics are atomics
type Router struct {
	cfg          Config
	sender       Sender
	handlers     map[string]Handler
	onSelfReport SelfReportHandler
	mu           sync.RWMutex

	pending *pendingCalls

	totalIn     atomic.Int64
	totalInTime atomic.Int64

	logger  logging.Logger
	metrics *metrics.Registry
}

// NewRouter creates a router for the node cfg.Self
func NewRouter(cfg Config, sender Sender, logger logging.Logger, reg *metrics.Registry) *Router {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if reg == nil {
		reg = metrics.DefaultRegistry()
	}
	return &Router{
		cfg:      cfg,
		sender:   sender,
		handlers: make(map[string]Handler),
		pending:  newPendingCalls(),
		logger:   logger.With(logging.Component("rpc"), logging.Node(cfg.Self)),
		metrics:  reg,
	}
}

// Handle registers a handler for a command name
func (r *Router) Handle(name string, handler Handler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	return r
}

// HandleFunc registers a handler whose parameters are decoded into T. A
// null or absent parameter value is passed as nil.
func HandleFunc[T any](r *Router, name string, handler func(ctx context.Context, params *T) protocol.Result) *Router {
	return r.Handle(name, func(ctx context.Context, raw json.RawMessage) protocol.Result {
		if len(raw) == 0 || string(raw) == "null" {
			return handler(ctx, nil)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return protocol.Fail(protocol.Errorf(protocol.CodeInvalidMessage, "parameters: %v", err))
		}
		return handler(ctx, &v)
	})
}

// OnSelfReport sets the receiver of device-status messages. Without one
// they are dropped.
func (r *Router) OnSelfReport(handler SelfReportHandler) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSelfReport = handler
	return r
}

// HasHandler returns true if a handler is registered for the command
func (r *Router) HasHandler(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Commands lists the registered command names, sorted
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// InboundStats are the counters of dispatched calls
type InboundStats struct {
	// TotalMsgIn is the number of calls handed to a handler
	TotalMsgIn int64
	// TotalMsgInTime is the summed handler latency
	TotalMsgInTime time.Duration
}

// Stats returns the inbound counters
func (r *Router) Stats() InboundStats {
	return InboundStats{
		TotalMsgIn:     r.totalIn.Load(),
		TotalMsgInTime: time.Duration(r.totalInTime.Load()),
	}
}

// Serve routes every frame from inbound until it is closed or ctx is done
func (r *Router) Serve(ctx context.Context, inbound <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			r.Route(ctx, raw)
		}
	}
}

// header is the part of an envelope read before validation, to filter our
// own messages and address error replies
type header struct {
	Topic      string `json:"topic"`
	FromUUID   string `json:"fromUuid"`
	CallbackID string `json:"callbackId"`
}

// Route processes one inbound message
func (r *Router) Route(ctx context.Context, raw []byte) {
	if report, ok := validation.DecodeSelfReport(raw); ok && report.Topic == protocol.TopicDeviceStatus {
		r.mu.RLock()
		onSelfReport := r.onSelfReport
		r.mu.RUnlock()
		if onSelfReport != nil {
			onSelfReport(ctx, report)
		}
		return
	}

	// Fields of the wrong type leave the header partly empty; validation
	// below reports them.
	var hdr header
	_ = json.Unmarshal(raw, &hdr)
	if hdr.FromUUID == r.cfg.Self {
		return
	}

	env, verr := validation.DecodeEnvelope(raw)
	if verr != nil {
		r.metrics.RecordRejected("envelope")
		r.logger.Error("invalid envelope",
			logging.RetCode(verr.RetCode),
			logging.String("description", verr.Description),
			logging.Topic(hdr.Topic))
		if hdr.Topic == protocol.TopicCall {
			req := &protocol.Envelope{FromUUID: hdr.FromUUID, CallbackID: hdr.CallbackID}
			r.reply(req, verr.Back())
		}
		return
	}

	switch env.Topic {
	case protocol.TopicBack:
		r.routeBack(env)
	case protocol.TopicCall:
		r.routeCall(ctx, env)
	}
}

func (r *Router) routeBack(env *protocol.Envelope) {
	back, verr := validation.DecodeBack(env.Payload)
	if verr != nil {
		r.metrics.RecordRejected("back_payload")
		r.logger.Error("invalid reply payload",
			logging.Instance(env.FromUUID),
			logging.CallbackID(env.CallbackID),
			logging.String("description", verr.Description))
		return
	}
	if !r.pending.settle(env.CallbackID, *back) {
		r.metrics.RPCUnmatchedReplies.Inc()
		r.logger.Debug("reply matched no pending call",
			logging.Instance(env.FromUUID),
			logging.CallbackID(env.CallbackID))
	}
}

func (r *Router) routeCall(ctx context.Context, env *protocol.Envelope) {
	call, verr := validation.DecodeCall(env.Payload)
	if verr != nil {
		r.metrics.RecordRejected("call_payload")
		r.logger.Error("invalid call payload",
			logging.Instance(env.FromUUID),
			logging.String("description", verr.Description))
		r.reply(env, verr.Back())
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[call.CmdName]
	r.mu.RUnlock()
	if !ok {
		r.metrics.RecordRejected("unknown_method")
		uerr := protocol.UnknownMethod(call.CmdName)
		r.logger.Error("unknown method",
			logging.Command(call.CmdName),
			logging.Instance(env.FromUUID),
			logging.RetCode(uerr.RetCode))
		r.reply(env, uerr.Back())
		return
	}

	r.totalIn.Add(1)
	r.logger.Debug("method call",
		logging.Command(call.CmdName),
		logging.Instance(env.FromUUID),
		logging.String("params", string(call.Parameters)))

	start := time.Now()
	result := handler(ctx, call.Parameters)
	elapsed := time.Since(start)

	r.totalInTime.Add(int64(elapsed))
	r.metrics.RecordInboundCall(call.CmdName, elapsed)

	if env.CallbackID == "" {
		return
	}
	back, err := result.Back()
	if err != nil {
		r.logger.Error("failed to encode result", logging.Command(call.CmdName), logging.Error(err))
		back = protocol.Errorf(protocol.CodeInvalidMessage, "%s: %v", call.CmdName, err).Back()
	}
	r.reply(env, back)
}

// reply sends back to the origin of req
func (r *Router) reply(req *protocol.Envelope, back protocol.BackPayload) {
	env, err := protocol.NewReply(r.cfg.Self, req, back)
	if err == nil {
		err = r.sender.Send(env)
	}
	if err != nil {
		r.logger.Error("failed to send reply",
			logging.Instance(req.FromUUID),
			logging.CallbackID(req.CallbackID),
			logging.Error(fmt.Errorf("reply: %w", err)))
	}
}
