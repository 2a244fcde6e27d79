// Package influxdb records receiver telemetry (source counters, decoded
// video numbers, service totals) to InfluxDB v2.
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteServiceCounts("10.0.0.5", 4, 3, 1, 0)
package influxdb
