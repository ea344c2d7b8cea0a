package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-live/internal/signal"
)

// Measurement is the InfluxDB measurement signals are written to.
const Measurement = "signal"

// WriteSignal queues sig as a point in the "signal" measurement, tagged by
// signal_id and unit. Only available number and boolean signals carry a
// plottable value; anything else is skipped without error.
//
// The write is non-blocking; failures surface through SetOnError.
func (c *Client) WriteSignal(_ context.Context, sig signal.Signal) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	point, ok := signalPoint(sig, c.now())
	if !ok {
		return nil
	}
	c.writeAPI.WritePoint(point)
	return nil
}

// signalPoint converts sig into a point. Booleans are stored as 0/1 in the
// same "value" field as numbers so one query can chart both.
func signalPoint(sig signal.Signal, ts time.Time) (*write.Point, bool) {
	if !sig.Available {
		return nil, false
	}

	var value float64
	switch sig.Value.Kind() {
	case signal.KindNumber:
		value, _ = sig.Value.AsNumber()
	case signal.KindBool:
		if b, _ := sig.Value.AsBool(); b {
			value = 1
		}
	default:
		return nil, false
	}

	tags := map[string]string{
		"signal_id": sig.ID,
	}
	if sig.Unit != "" {
		tags["unit"] = sig.Unit
	}
	fields := map[string]any{
		"value": value,
	}
	if sig.DisplayValue != "" {
		fields["display"] = sig.DisplayValue
	}

	return write.NewPoint(Measurement, tags, fields, ts), true
}
