package connection

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hudlink/hudlink/internal/connection"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
