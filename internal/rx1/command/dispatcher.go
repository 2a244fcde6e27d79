package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// BulkDelay is the pause after each call issued by start_all and stop_all.
const BulkDelay = 500 * time.Millisecond

// Device is the subset of *rx1.Client the dispatcher calls.
type Device interface {
	Do(ctx context.Context, method, path string, body any) (any, error)
	ServicesByType(ctx context.Context, serviceType string) ([]rx1.Service, error)
	ServiceConfig(ctx context.Context, serviceType, serviceID string) (any, error)
	StartService(ctx context.Context, serviceType, serviceID string) error
	StopService(ctx context.Context, serviceType, serviceID string) error
	AssignServer(ctx context.Context, serviceType, serviceID, serverID string) error
	RemoveServer(ctx context.Context, serviceType, serviceID, serverID string) error
}

// Refresher is the subset of *engine.Engine the dispatcher triggers.
type Refresher interface {
	RefreshAll(ctx context.Context)
	ScheduleRefresh()
	RefreshService(ctx context.Context, serviceType, serviceID string) error
}

// Logger is the structured logger the dispatcher writes to.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Result describes what a command did. Only the fields relevant to the
// command's kind are set.
type Result struct {
	Kind     Kind               `json:"kind"`
	Service  string             `json:"service,omitempty"`
	Action   string             `json:"action,omitempty"`
	Issued   int                `json:"issued,omitempty"`
	Count    int                `json:"count,omitempty"`
	Response any                `json:"response,omitempty"`
	Status   *rx1.ServiceStatus `json:"status,omitempty"`
}

// Dispatcher runs commands against the device.
type Dispatcher struct {
	device    Device
	refresher Refresher
	reader    snapshot.Reader
	logger    Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. The reader supplies the service
// list for toggle and the bulk commands. logger may be nil.
func NewDispatcher(device Device, refresher Refresher, reader snapshot.Reader, logger Logger) *Dispatcher {
	return &Dispatcher{
		device:    device,
		refresher: refresher,
		reader:    reader,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// SetSleep replaces the pause used between bulk calls.
func (d *Dispatcher) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	d.sleep = sleep
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs cmd. Mutating commands schedule a deferred refresh.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Kind: cmd.Kind()}
	if ref, ok := ServiceOf(cmd); ok {
		res.Service = ref.String()
	}

	var err error
	switch c := cmd.(type) {
	case StartService:
		res.Action = "start"
		err = d.start(ctx, c.Service)
	case StopService:
		res.Action = "stop"
		err = d.stop(ctx, c.Service)
	case ToggleService:
		err = d.toggle(ctx, c.Service, &res)
	case RefreshServices:
		d.refresher.RefreshAll(ctx)
	case CustomAPIGet:
		res.Response, err = d.custom(ctx, http.MethodGet, c.Path, nil)
	case CustomAPIPost:
		res.Response, err = d.customPost(ctx, c)
	case StartAllServices:
		res.Action = "start"
		res.Issued, err = d.bulk(ctx, rx1.StateStopped, d.start)
	case StopAllServices:
		res.Action = "stop"
		res.Issued, err = d.bulk(ctx, rx1.StateStarted, d.stop)
	case GetServiceStatus:
		res.Status, err = d.serviceStatus(ctx, c.Service)
	case ExportServiceConfig:
		res.Response, err = d.exportConfig(ctx, c.Service)
	case AssignServer:
		err = d.assign(ctx, c)
	case RemoveServer:
		err = d.remove(ctx, c)
	case GetServicesByType:
		res.Count, err = d.servicesByType(ctx, c.ServiceType)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownKind, cmd)
	}
	return res, err
}

func (d *Dispatcher) start(ctx context.Context, ref ServiceRef) error {
	err := d.device.StartService(ctx, ref.Type, ref.ID)
	d.refresher.ScheduleRefresh()
	if err != nil {
		d.logError("Failed to start service", err)
		return fmt.Errorf("starting %s: %w", ref, err)
	}
	d.logInfo("Started service " + ref.ID)
	return nil
}

func (d *Dispatcher) stop(ctx context.Context, ref ServiceRef) error {
	err := d.device.StopService(ctx, ref.Type, ref.ID)
	d.refresher.ScheduleRefresh()
	if err != nil {
		d.logError("Failed to stop service", err)
		return fmt.Errorf("stopping %s: %w", ref, err)
	}
	d.logInfo("Stopped service " + ref.ID)
	return nil
}

func (d *Dispatcher) toggle(ctx context.Context, ref ServiceRef, res *Result) error {
	svc, ok := d.reader.FindService(ref.Type, ref.ID)
	if !ok {
		d.logWarn("Service not found", "service", ref.String())
		return fmt.Errorf("%w: %s", ErrServiceNotFound, ref)
	}
	if svc.State == rx1.StateStarted {
		res.Action = "stop"
		return d.stop(ctx, ref)
	}
	res.Action = "start"
	return d.start(ctx, ref)
}

// bulk applies op to every listed service in state want, one at a time,
// pausing BulkDelay after each call. Failures do not stop the run.
func (d *Dispatcher) bulk(ctx context.Context, want rx1.ServiceState, op func(context.Context, ServiceRef) error) (int, error) {
	var errs []error
	issued := 0
	for _, svc := range d.reader.Services() {
		if svc.State != want {
			continue
		}
		issued++
		if err := op(ctx, ServiceRef{Type: svc.ServiceType, ID: svc.ServiceID}); err != nil {
			errs = append(errs, err)
		}
		if err := d.sleep(ctx, BulkDelay); err != nil {
			errs = append(errs, err)
			break
		}
	}
	return issued, errors.Join(errs...)
}

func (d *Dispatcher) custom(ctx context.Context, method, path string, body any) (any, error) {
	resp, err := d.device.Do(ctx, method, path, body)
	if err != nil {
		d.logError("API Request failed", err)
		return nil, err
	}
	d.logInfo("API Response: " + marshalLog(resp))
	return resp, nil
}

func (d *Dispatcher) customPost(ctx context.Context, c CustomAPIPost) (any, error) {
	var body any
	if c.Body != "" {
		if err := json.Unmarshal([]byte(c.Body), &body); err != nil {
			d.logWarn("Invalid JSON body, sending without body", "error", err)
			body = nil
		}
	}
	resp, err := d.custom(ctx, http.MethodPost, c.Path, body)
	d.refresher.ScheduleRefresh()
	return resp, err
}

func (d *Dispatcher) serviceStatus(ctx context.Context, ref ServiceRef) (*rx1.ServiceStatus, error) {
	svc, ok := d.reader.FindService(ref.Type, ref.ID)
	if !ok {
		d.logWarn("Service not found", "service", ref.String())
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, ref)
	}
	if err := d.refresher.RefreshService(ctx, ref.Type, ref.ID); err != nil {
		return nil, err
	}
	status, _ := d.reader.ServiceStatus(svc.ServiceName)
	return status, nil
}

func (d *Dispatcher) exportConfig(ctx context.Context, ref ServiceRef) (any, error) {
	cfg, err := d.device.ServiceConfig(ctx, ref.Type, ref.ID)
	if err != nil {
		d.logError("Failed to export config", err)
		return nil, err
	}
	d.logInfo("Service config exported: " + marshalLog(cfg))
	return cfg, nil
}

func (d *Dispatcher) assign(ctx context.Context, c AssignServer) error {
	err := d.device.AssignServer(ctx, c.Service.Type, c.Service.ID, c.ServerID)
	d.refresher.ScheduleRefresh()
	if err != nil {
		d.logError("Failed to assign server", err)
		return err
	}
	d.logInfo(fmt.Sprintf("Assigned %s to service %s", c.ServerID, c.Service.ID))
	return nil
}

func (d *Dispatcher) remove(ctx context.Context, c RemoveServer) error {
	err := d.device.RemoveServer(ctx, c.Service.Type, c.Service.ID, c.ServerID)
	d.refresher.ScheduleRefresh()
	if err != nil {
		d.logError("Failed to remove server", err)
		return err
	}
	d.logInfo(fmt.Sprintf("Removed %s from service %s", c.ServerID, c.Service.ID))
	return nil
}

func (d *Dispatcher) servicesByType(ctx context.Context, serviceType string) (int, error) {
	services, err := d.device.ServicesByType(ctx, serviceType)
	if err != nil {
		d.logError("Failed to get services by type", err)
		return 0, err
	}
	d.logInfo(fmt.Sprintf("Found %d %s services", len(services), serviceType))
	if len(services) > 0 {
		d.refresher.RefreshAll(ctx)
	}
	return len(services), nil
}

func marshalLog(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, err error) {
	if d.logger != nil {
		d.logger.Error(msg, "error", err)
	}
}
