package responder

import "go.opentelemetry.io/otel"

const scopeName = "github.com/satriahrh/callrelay/internal/responder"

var tracer = otel.Tracer(scopeName)
