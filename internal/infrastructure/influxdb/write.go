package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the receiver bridge.
const (
	MeasurementServices = "rx1_services"
	MeasurementSource   = "rx1_source"
	MeasurementVideo    = "rx1_video"
	MeasurementService  = "rx1_service"
)

// WriteServiceCounts records the service totals derived from a refresh.
func (c *Client) WriteServiceCounts(deviceHost string, total, running, stopped, blocked int) {
	c.WritePoint(MeasurementServices,
		map[string]string{"device": deviceHost},
		map[string]any{
			"total":   total,
			"running": running,
			"stopped": stopped,
			"blocked": blocked,
		})
}

// WriteSourceStats records counters for one input source of a service.
// source is "primary" or "secondary".
func (c *Client) WriteSourceStats(deviceHost, service, source string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementSource,
		map[string]string{"device": deviceHost, "service": service, "source": source},
		fields)
}

// WriteVideoStats records the decoded video stream numbers of a service.
func (c *Client) WriteVideoStats(deviceHost, service string, fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.WritePoint(MeasurementVideo,
		map[string]string{"device": deviceHost, "service": service},
		fields)
}

// WriteServiceUptime records the uptime and blocked flag of a service.
func (c *Client) WriteServiceUptime(deviceHost, service string, uptimeSec int64, blocked bool) {
	c.WritePoint(MeasurementService,
		map[string]string{"device": deviceHost, "service": service},
		map[string]any{"uptime_sec": uptimeSec, "blocked": blocked})
}

// WritePoint writes a custom point timestamped now. Writes are dropped
// silently while disconnected.
//
//	client.WritePoint("rx1_source",
//	    map[string]string{"service": "Cam 1", "source": "primary"},
//	    map[string]any{"bitrate": 15e6, "cc_errors": 0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
	c.points.Add(1)
}
