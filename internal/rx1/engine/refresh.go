package engine

import (
	"context"
	"fmt"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Fetch stages used as metric labels.
const (
	stageServices = "services"
	stageServer   = "server"
	stageService  = "service"
)

// RefreshAll runs one full refresh cycle. It never returns an error:
// callers observe the outcome through the snapshot and the host. With no
// device host configured nothing is fetched and the status stays
// bad_config.
func (e *Engine) RefreshAll(ctx context.Context) {
	if e.client.Host() == "" {
		e.setConnection(snapshot.BadConfig, rx1.ErrHostRequired.Error())
		e.logDebug("Skipping refresh without a device host")
		return
	}
	start := e.clock.Now()

	services, err := e.client.Services(ctx)
	if err != nil {
		e.setConnection(snapshot.ConnectionFailure, err.Error())
		e.logError("Failed to get services", err)
		e.metrics.fetchFailed(stageServices)
		e.metrics.observeCycle(resultConnectionFailure, e.clock.Now().Sub(start).Seconds())
		e.host.CheckFeedbacks()
		return
	}

	e.writer.ReplaceServices(services)
	e.setConnection(snapshot.OK, "")
	e.project()
	e.push(fields.ServiceListValues(services))

	e.refreshServer(ctx, services)

	for _, svc := range services {
		_ = e.refreshService(ctx, svc)
	}

	blocked := fields.BlockedCount(e.writer.View())
	e.push(fields.Values{fields.FieldBlockedServices: blocked})
	e.project()
	e.host.CheckFeedbacks()

	running, stopped := countStates(services)
	e.metrics.setServiceCounts(len(services), running, stopped, blocked)
	if e.telemetry != nil {
		e.telemetry.WriteServiceCounts(e.client.Host(), len(services), running, stopped, blocked)
	}
	e.metrics.observeCycle(resultOK, e.clock.Now().Sub(start).Seconds())
}

// refreshServer fetches the server status. On failure the previous
// status is kept. Statuses embedded in the server record are merged into
// the snapshot by service id.
func (e *Engine) refreshServer(ctx context.Context, services []rx1.Service) {
	status, err := e.client.ServerStatus(ctx)
	if err != nil {
		e.logDebug("Failed to get server status", "error", err)
		e.metrics.fetchFailed(stageServer)
		return
	}

	e.writer.ReplaceServerStatus(status)
	e.push(fields.ServerValues(status, services, e.layout))

	for i := range status.Services {
		embedded := status.Services[i]
		svc, ok := findByID(services, embedded.ID)
		if !ok {
			continue
		}
		e.writer.PutServiceStatus(svc.ServiceName, &embedded)
		e.push(fields.ServiceValues(svc.ServiceName, &embedded, e.layout))
	}
}

// refreshService fetches one service's status. A failure stores the
// offline status and writes the offline subset.
func (e *Engine) refreshService(ctx context.Context, svc rx1.Service) error {
	id := svc.ServiceID
	if id == "" {
		id = svc.ServiceName
	}

	status, err := e.client.ServiceStatus(ctx, id)
	if err != nil {
		e.logDebug("Failed to get service status", "service", svc.ServiceName, "error", err)
		e.metrics.fetchFailed(stageService)
		e.writer.PutServiceStatus(svc.ServiceName, rx1.OfflineServiceStatus())
		e.push(fields.OfflineValues(svc.ServiceName))
		return fmt.Errorf("service %q: %w", svc.ServiceName, err)
	}

	e.logDebug("Updating variables for service", "service", svc.ServiceName)
	e.writer.PutServiceStatus(svc.ServiceName, status)
	e.push(fields.ServiceValues(svc.ServiceName, status, e.layout))
	e.writeTelemetry(svc.ServiceName, status)
	return nil
}

// RefreshService refreshes one listed service on demand and re-checks
// feedbacks.
func (e *Engine) RefreshService(ctx context.Context, serviceType, serviceID string) error {
	svc, ok := e.writer.View().FindService(serviceType, serviceID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrServiceNotListed, serviceType, serviceID)
	}

	err := e.refreshService(ctx, svc)
	e.push(fields.Values{fields.FieldBlockedServices: fields.BlockedCount(e.writer.View())})
	e.host.CheckFeedbacks()
	return err
}

// project recomputes the declared field set and hands it to the host.
func (e *Engine) project() {
	set := fields.Project(e.writer.View(), e.layout)
	e.projection.Store(set)
	e.host.SetDefinitions(set.Definitions())
}

// push filters values against the current projection and forwards the
// declared ones.
func (e *Engine) push(values fields.Values) {
	kept, dropped := e.Definitions().Filter(values)
	if len(dropped) > 0 {
		e.logDebug("Dropping values for undeclared fields", "fields", dropped)
	}
	if len(kept) > 0 {
		e.host.SetValues(kept)
	}
}

func (e *Engine) setConnection(state snapshot.ConnectionState, message string) {
	e.writer.SetConnection(state)
	e.host.SetStatus(state, message)
}

func (e *Engine) writeTelemetry(serviceName string, status *rx1.ServiceStatus) {
	if e.telemetry == nil {
		return
	}
	host := e.client.Host()

	if status.Inputs != nil {
		for idx, src := range status.Inputs.Sources {
			stats := map[string]any{
				"receiving":        src.Receiving,
				"cc_errors":        src.CCError.Int64(),
				"pid_errors":       src.PIDError.Int64(),
				"pmt_errors":       src.PMTError.Int64(),
				"sync_errors":      src.SyncByteError.Int64(),
				"transport_errors": src.TransportError.Int64(),
				"sync_loss":        src.TSSyncLoss.Int64(),
			}
			if src.BitRate != nil {
				stats["bitrate"] = *src.BitRate
			}
			if src.CNMargin != nil {
				stats["cn_margin"] = *src.CNMargin
			}
			if src.SignalStrength != nil {
				stats["signal_strength"] = *src.SignalStrength
			}
			e.telemetry.WriteSourceStats(host, serviceName, fields.SourceName(idx), stats)
		}
	}

	if status.Processings != nil {
		if video := status.Processings.Decode.VideoStream(); video != nil {
			stats := map[string]any{
				"width":  video.Width.Int64(),
				"height": video.Height.Int64(),
			}
			if video.BitRate != nil {
				stats["bitrate"] = *video.BitRate
			}
			e.telemetry.WriteVideoStats(host, serviceName, stats)
		}
	}

	e.telemetry.WriteServiceUptime(host, serviceName, status.UptimeSec.Int64(), status.Blocked())
}

func findByID(services []rx1.Service, id string) (rx1.Service, bool) {
	for _, svc := range services {
		if svc.ServiceID == id {
			return svc, true
		}
	}
	return rx1.Service{}, false
}

func countStates(services []rx1.Service) (running, stopped int) {
	for _, svc := range services {
		switch svc.State {
		case rx1.StateStarted:
			running++
		case rx1.StateStopped:
			stopped++
		}
	}
	return running, stopped
}
