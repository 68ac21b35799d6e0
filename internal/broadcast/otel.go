package broadcast

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/chartwork/mapsync/internal/broadcast"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
