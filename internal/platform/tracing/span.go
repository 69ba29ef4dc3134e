package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// End closes span, recording *errp when it is non-nil. Use it deferred with a
// named error result:
//
//	ctx, span := tracer.Start(ctx, "inbound.register_batch")
//	defer tracing.End(span, &err)
func End(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
