// Package command defines the operator commands the bridge accepts and the
// dispatcher that runs them against the receiver.
//
// Commands are a closed set: every variant lives in this package and is
// built by Decode from a kind and a JSON options document.
package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
)

// Kind names a command variant.
type Kind string

// Command kinds.
const (
	KindStartService        Kind = "start_service"
	KindStopService         Kind = "stop_service"
	KindToggleService       Kind = "toggle_service"
	KindRefreshServices     Kind = "refresh_services"
	KindCustomAPIGet        Kind = "custom_api_get"
	KindCustomAPIPost       Kind = "custom_api_post"
	KindStartAllServices    Kind = "start_all_services"
	KindStopAllServices     Kind = "stop_all_services"
	KindGetServiceStatus    Kind = "get_service_status"
	KindExportServiceConfig Kind = "export_service_config"
	KindAssignServer        Kind = "assign_server"
	KindRemoveServer        Kind = "remove_server"
	KindGetServicesByType   Kind = "get_service_by_type"
)

// Kinds lists every command kind in a stable order.
var Kinds = []Kind{
	KindStartService, KindStopService, KindToggleService, KindRefreshServices,
	KindCustomAPIGet, KindCustomAPIPost, KindStartAllServices, KindStopAllServices,
	KindGetServiceStatus, KindExportServiceConfig, KindAssignServer, KindRemoveServer,
	KindGetServicesByType,
}

// Option defaults.
const (
	DefaultGetPath     = "/api/services"
	DefaultServiceType = "content_processing"
)

// ServiceTypes are the service types the device is known to expose.
// get_service_by_type accepts only these.
var ServiceTypes = []string{
	"content_processing",
	"mux",
	"live_packaging",
	"live_encoding",
	"stream_conditioning",
	"srt",
	"ts_splicer",
}

// Command is one decoded operator command.
type Command interface {
	Kind() Kind
	command()
}

// ServiceRef identifies a service as "type/id".
type ServiceRef = rx1.ServiceRef

// ParseServiceRef splits "type/id". Both parts must be present.
func ParseServiceRef(s string) (ServiceRef, error) {
	return rx1.ParseServiceRef(s)
}

// StartService starts one service.
type StartService struct{ Service ServiceRef }

// StopService stops one service.
type StopService struct{ Service ServiceRef }

// ToggleService stops a started service and starts anything else.
type ToggleService struct{ Service ServiceRef }

// RefreshServices runs a full refresh cycle.
type RefreshServices struct{}

// CustomAPIGet issues a raw GET.
type CustomAPIGet struct{ Path string }

// CustomAPIPost issues a raw POST. Body is JSON text; empty means no body.
type CustomAPIPost struct {
	Path string
	Body string
}

// StartAllServices starts every stopped service.
type StartAllServices struct{}

// StopAllServices stops every started service.
type StopAllServices struct{}

// GetServiceStatus refreshes one service's statistics.
type GetServiceStatus struct{ Service ServiceRef }

// ExportServiceConfig fetches and logs a service's configuration.
type ExportServiceConfig struct{ Service ServiceRef }

// AssignServer assigns a server to a service.
type AssignServer struct {
	Service  ServiceRef
	ServerID string
}

// RemoveServer removes a server assignment from a service.
type RemoveServer struct {
	Service  ServiceRef
	ServerID string
}

// GetServicesByType lists the services of one type.
type GetServicesByType struct{ ServiceType string }

func (StartService) Kind() Kind        { return KindStartService }
func (StopService) Kind() Kind         { return KindStopService }
func (ToggleService) Kind() Kind       { return KindToggleService }
func (RefreshServices) Kind() Kind     { return KindRefreshServices }
func (CustomAPIGet) Kind() Kind        { return KindCustomAPIGet }
func (CustomAPIPost) Kind() Kind       { return KindCustomAPIPost }
func (StartAllServices) Kind() Kind    { return KindStartAllServices }
func (StopAllServices) Kind() Kind     { return KindStopAllServices }
func (GetServiceStatus) Kind() Kind    { return KindGetServiceStatus }
func (ExportServiceConfig) Kind() Kind { return KindExportServiceConfig }
func (AssignServer) Kind() Kind        { return KindAssignServer }
func (RemoveServer) Kind() Kind        { return KindRemoveServer }
func (GetServicesByType) Kind() Kind   { return KindGetServicesByType }

func (StartService) command()        {}
func (StopService) command()         {}
func (ToggleService) command()       {}
func (RefreshServices) command()     {}
func (CustomAPIGet) command()        {}
func (CustomAPIPost) command()       {}
func (StartAllServices) command()    {}
func (StopAllServices) command()     {}
func (GetServiceStatus) command()    {}
func (ExportServiceConfig) command() {}
func (AssignServer) command()        {}
func (RemoveServer) command()        {}
func (GetServicesByType) command()   {}

// options is the union of every command's option keys.
type options struct {
	Service     string  `json:"service"`
	Path        *string `json:"path"`
	Body        string  `json:"body"`
	ServerID    string  `json:"server_id"`
	ServiceType string  `json:"service_type"`
}

// Decode builds the command for kind from its JSON options, applying
// defaults. Empty or null options are accepted.
func Decode(kind string, raw json.RawMessage) (Command, error) {
	var opts options
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &opts); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}

	serverID := opts.ServerID
	if serverID == "" {
		serverID = rx1.DefaultServerID
	}

	switch Kind(kind) {
	case KindStartService:
		return withService(opts.Service, func(ref ServiceRef) Command { return StartService{Service: ref} })
	case KindStopService:
		return withService(opts.Service, func(ref ServiceRef) Command { return StopService{Service: ref} })
	case KindToggleService:
		return withService(opts.Service, func(ref ServiceRef) Command { return ToggleService{Service: ref} })
	case KindRefreshServices:
		return RefreshServices{}, nil
	case KindCustomAPIGet:
		path := DefaultGetPath
		if opts.Path != nil {
			path = *opts.Path
		}
		if path == "" {
			return nil, ErrPathRequired
		}
		return CustomAPIGet{Path: path}, nil
	case KindCustomAPIPost:
		if opts.Path == nil || *opts.Path == "" {
			return nil, ErrPathRequired
		}
		return CustomAPIPost{Path: *opts.Path, Body: opts.Body}, nil
	case KindStartAllServices:
		return StartAllServices{}, nil
	case KindStopAllServices:
		return StopAllServices{}, nil
	case KindGetServiceStatus:
		return withService(opts.Service, func(ref ServiceRef) Command { return GetServiceStatus{Service: ref} })
	case KindExportServiceConfig:
		return withService(opts.Service, func(ref ServiceRef) Command { return ExportServiceConfig{Service: ref} })
	case KindAssignServer:
		return withService(opts.Service, func(ref ServiceRef) Command { return AssignServer{Service: ref, ServerID: serverID} })
	case KindRemoveServer:
		return withService(opts.Service, func(ref ServiceRef) Command { return RemoveServer{Service: ref, ServerID: serverID} })
	case KindGetServicesByType:
		serviceType := opts.ServiceType
		if serviceType == "" {
			serviceType = DefaultServiceType
		}
		if !slices.Contains(ServiceTypes, serviceType) {
			return nil, fmt.Errorf("%w: unknown service type %q", ErrInvalidOptions, serviceType)
		}
		return GetServicesByType{ServiceType: serviceType}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func withService(s string, build func(ServiceRef) Command) (Command, error) {
	ref, err := ParseServiceRef(s)
	if err != nil {
		return nil, err
	}
	return build(ref), nil
}

// ServiceOf returns the service a command targets, if any.
func ServiceOf(cmd Command) (ServiceRef, bool) {
	switch c := cmd.(type) {
	case StartService:
		return c.Service, true
	case StopService:
		return c.Service, true
	case ToggleService:
		return c.Service, true
	case GetServiceStatus:
		return c.Service, true
	case ExportServiceConfig:
		return c.Service, true
	case AssignServer:
		return c.Service, true
	case RemoveServer:
		return c.Service, true
	}
	return ServiceRef{}, false
}
