package control

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/hudlink/hudlink/internal/control"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
