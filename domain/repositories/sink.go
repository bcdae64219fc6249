package repositories

import (
	"context"
	"errors"

	"github.com/satriahrh/callrelay/domain"
)

// ErrNotConnected is returned when no relay connection exists for a call
var ErrNotConnected = errors.New("relay not connected")

// OutboundSink delivers messages to the relay session of a call
type OutboundSink interface {
	Send(ctx context.Context, callSid string, msg domain.OutboundMessage) error
}
