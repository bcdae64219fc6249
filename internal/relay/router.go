// Package relay classifies raw relay payloads and hands them to the
// session layer tagged with the call identity of the connection.
package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/callrelay/domain"
)

// Dispatcher receives classified events. Interrupts have their own entry
// point so they never queue behind prompts or digits.
type Dispatcher interface {
	Deliver(ctx context.Context, in domain.Inbound) error
	Interrupt(ctx context.Context, callSid string, ev *domain.Interrupt) error
}

// Router tags relay payloads with their call and dispatches them
type Router struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewRouter creates a router
func NewRouter(dispatcher Dispatcher, logger *zap.Logger) *Router {
	return &Router{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Route classifies raw as an event of callSid and dispatches it. callSid
// comes from the authenticated connection, never from raw.
func (r *Router) Route(ctx context.Context, callSid string, raw []byte) error {
	logger := r.logger.With(zap.String("callSid", callSid))

	in, err := domain.DecodeInbound(callSid, raw)
	if err != nil {
		logger.Warn("Rejected relay message", zap.Error(err))
		return err
	}

	switch ev := in.Event.(type) {
	case *domain.Interrupt:
		err = r.dispatcher.Interrupt(ctx, callSid, ev)
	case *domain.RelayError:
		logger.Error("Relay reported an error", zap.String("description", ev.Description))
		return nil
	default:
		err = r.dispatcher.Deliver(ctx, in)
	}

	if err != nil {
		logger.Warn("Failed to dispatch relay message",
			zap.String("type", string(in.Event.InboundType())),
			zap.Error(err))
		return err
	}

	logger.Debug("Relay message dispatched", zap.String("type", string(in.Event.InboundType())))
	return nil
}
