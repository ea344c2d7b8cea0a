// Package influxdb writes signal telemetry to InfluxDB 2.x.
//
// It wraps the official influxdb-client-go v2 library: Connect pings the
// server, WriteSignal queues a point on the non-blocking batched write API,
// and Close flushes what is pending.
//
// # Points
//
// Every plottable signal becomes one point in the "signal" measurement:
//
//	signal,signal_id=oh:Kitchen_Temp,unit=°C display="21.5 °C",value=21.5
//
// Booleans are written as 0 or 1. Unavailable signals, strings and enums are
// skipped.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Error("InfluxDB write error", "error", err) })
//	rec := recorder.New("influxdb", store, client)
//
// # Error Handling
//
// Writes never block the caller. Batch failures reported by the library are
// passed to the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
