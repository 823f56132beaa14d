// Package runner starts a worker harness against the control service.
package runner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/sdkharness/internal/platform/discovery"
	apperrors "github.com/louisbranch/sdkharness/internal/platform/errors"
)

const tracerName = "github.com/louisbranch/sdkharness/internal/services/harness/runner"

// Harness is a long-running worker bound to one control service.
type Harness interface {
	Run(ctx context.Context) error
}

// Factory builds a harness from the control service URL alone.
type Factory func(url string) (Harness, error)

// Runner validates the control descriptor and runs the harness it describes.
type Runner struct {
	New Factory
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Run blocks for the lifetime of the harness. A descriptor that requests a
// credential grant is rejected before any harness is built. The harness error
// is returned as is.
func (r Runner) Run(ctx context.Context, d discovery.Descriptor) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.Authenticated() {
		return apperrors.WithMetadata(
			apperrors.CodeUnsupportedAuthentication,
			"control service requests an oauth2 client credentials grant",
			map[string]string{"url": d.URL},
		)
	}
	if r.New == nil {
		return apperrors.New(apperrors.CodeHarnessExecution, "harness factory is not configured")
	}

	tracer := r.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	ctx, span := tracer.Start(ctx, "harness.run", trace.WithAttributes(attribute.String("control.url", d.URL)))
	defer span.End()

	harness, err := r.New(d.URL)
	if err == nil && harness == nil {
		err = fmt.Errorf("factory returned no harness")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "build harness")
		return apperrors.WrapWithMetadata(apperrors.CodeHarnessExecution, "build harness", map[string]string{"url": d.URL}, err)
	}

	if err := harness.Run(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return err
	}
	return nil
}
