// Package condition evaluates boolean conditions over the snapshot.
//
// Conditions are a closed set built by Decode. Evaluate is pure: it reads
// the snapshot and never touches the device. Missing data evaluates to
// false.
package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a condition variant.
type Kind string

// Condition kinds.
const (
	KindServiceState         Kind = "service_state"
	KindServiceReceiving     Kind = "service_receiving"
	KindInputAlarm           Kind = "input_alarm"
	KindBitrateThreshold     Kind = "bitrate_threshold"
	KindDescramblingState    Kind = "descrambling_state"
	KindSourceActive         Kind = "source_active"
	KindConnectionStatus     Kind = "connection_status"
	KindAnyServiceRunning    Kind = "any_service_running"
	KindAllServicesStopped   Kind = "all_services_stopped"
	KindSatelliteInputStatus Kind = "satellite_input_status"
	KindASIInputStatus       Kind = "asi_input_status"
	KindServiceBlocked       Kind = "service_blocked"
	KindProgramDetected      Kind = "program_detected"
	KindDecodeState          Kind = "decode_state"
)

// Kinds lists every condition kind in a stable order.
var Kinds = []Kind{
	KindServiceState, KindServiceReceiving, KindInputAlarm, KindBitrateThreshold,
	KindDescramblingState, KindSourceActive, KindConnectionStatus, KindAnyServiceRunning,
	KindAllServicesStopped, KindSatelliteInputStatus, KindASIInputStatus,
	KindServiceBlocked, KindProgramDetected, KindDecodeState,
}

// Option values.
const (
	AlarmCCError        = "ccError"
	AlarmTransportError = "transportError"
	AlarmTSSyncLoss     = "tsSyncLoss"
	AlarmPIDError       = "pidError"
	AlarmPMTError       = "pmtError"

	CompareLess    = "less"
	CompareGreater = "greater"

	CheckRFLock         = "rfLock"
	CheckReceiving      = "receiving"
	CheckBER            = "ber"
	CheckCNMargin       = "cnMargin"
	CheckSignalStrength = "signalStrength"
	CheckBitrate        = "bitrate"

	CheckActive     = "active"
	CheckResolution = "resolution"
	CheckCodec      = "codec"

	DefaultBitrate      = 1000000
	DefaultASIThreshold = 1000000
	DefaultDescrambling = "clear"
	DefaultServiceState = "started"
	DefaultDecodeStream = "video"
)

// Errors returned by Decode.
var (
	ErrUnknownKind    = errors.New("condition: unknown kind")
	ErrInvalidOptions = errors.New("condition: invalid options")
)

// Condition is one decoded condition.
type Condition interface {
	Kind() Kind
	condition()
}

// ServiceState is true when the listed service is in State.
type ServiceState struct {
	Service string
	State   string
}

// ServiceReceiving is true when the service's active source is receiving.
type ServiceReceiving struct {
	Service string
}

// InputAlarm is true when the active source's counter exceeds Threshold.
type InputAlarm struct {
	Service   string
	AlarmType string
	Threshold float64
}

// BitrateThreshold compares the active source's bitrate to Bitrate.
type BitrateThreshold struct {
	Service    string
	Comparison string
	Bitrate    float64
}

// DescramblingState is true when the decoder reports State.
type DescramblingState struct {
	Service string
	State   string
}

// SourceActive is true when the device reports Source as the active index.
type SourceActive struct {
	Service string
	Source  int
}

// ConnectionStatus is true while the device connection is OK.
type ConnectionStatus struct{}

// AnyServiceRunning is true when at least one service is started.
type AnyServiceRunning struct{}

// AllServicesStopped is true when services exist and all are stopped.
type AllServicesStopped struct{}

// SatelliteInputStatus checks the first satellite source of a service.
type SatelliteInputStatus struct {
	ServiceName string
	Check       string
	Threshold   float64
}

// ASIInputStatus checks the first ASI source of a service.
type ASIInputStatus struct {
	ServiceName string
	Check       string
	Threshold   float64
}

// ServiceBlocked is true when the service's running state mentions blocked.
type ServiceBlocked struct {
	ServiceName string
}

// ProgramDetected is true when Program is present in the transport
// stream, or when any program is present and Program is 0.
type ProgramDetected struct {
	ServiceName string
	Program     int
}

// DecodeState checks the first decoder stream of StreamType.
type DecodeState struct {
	ServiceName string
	StreamType  string
	Check       string
	MatchValue  string
}

func (ServiceState) Kind() Kind         { return KindServiceState }
func (ServiceReceiving) Kind() Kind     { return KindServiceReceiving }
func (InputAlarm) Kind() Kind           { return KindInputAlarm }
func (BitrateThreshold) Kind() Kind     { return KindBitrateThreshold }
func (DescramblingState) Kind() Kind    { return KindDescramblingState }
func (SourceActive) Kind() Kind         { return KindSourceActive }
func (ConnectionStatus) Kind() Kind     { return KindConnectionStatus }
func (AnyServiceRunning) Kind() Kind    { return KindAnyServiceRunning }
func (AllServicesStopped) Kind() Kind   { return KindAllServicesStopped }
func (SatelliteInputStatus) Kind() Kind { return KindSatelliteInputStatus }
func (ASIInputStatus) Kind() Kind       { return KindASIInputStatus }
func (ServiceBlocked) Kind() Kind       { return KindServiceBlocked }
func (ProgramDetected) Kind() Kind      { return KindProgramDetected }
func (DecodeState) Kind() Kind          { return KindDecodeState }

func (ServiceState) condition()         {}
func (ServiceReceiving) condition()     {}
func (InputAlarm) condition()           {}
func (BitrateThreshold) condition()     {}
func (DescramblingState) condition()    {}
func (SourceActive) condition()         {}
func (ConnectionStatus) condition()     {}
func (AnyServiceRunning) condition()    {}
func (AllServicesStopped) condition()   {}
func (SatelliteInputStatus) condition() {}
func (ASIInputStatus) condition()       {}
func (ServiceBlocked) condition()       {}
func (ProgramDetected) condition()      {}
func (DecodeState) condition()          {}

// options is the union of every condition's option keys.
type options struct {
	Service     string   `json:"service"`
	ServiceName string   `json:"service_name"`
	State       string   `json:"state"`
	AlarmType   string   `json:"alarm_type"`
	Threshold   *float64 `json:"threshold"`
	Comparison  string   `json:"comparison"`
	Bitrate     *float64 `json:"bitrate"`
	Source      int      `json:"source"`
	Check       string   `json:"check"`
	Program     int      `json:"program"`
	StreamType  string   `json:"stream_type"`
	MatchValue  string   `json:"match_value"`
}

func (o options) threshold(def float64) float64 {
	if o.Threshold == nil {
		return def
	}
	return *o.Threshold
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Decode builds the condition for kind from its JSON options, applying
// defaults. A malformed service reference is accepted; it evaluates to
// false.
func Decode(kind string, raw json.RawMessage) (Condition, error) {
	var o options
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &o); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}

	switch Kind(kind) {
	case KindServiceState:
		return ServiceState{Service: o.Service, State: or(o.State, DefaultServiceState)}, nil
	case KindServiceReceiving:
		return ServiceReceiving{Service: o.Service}, nil
	case KindInputAlarm:
		return InputAlarm{Service: o.Service, AlarmType: or(o.AlarmType, AlarmCCError), Threshold: o.threshold(0)}, nil
	case KindBitrateThreshold:
		bitrate := float64(DefaultBitrate)
		if o.Bitrate != nil {
			bitrate = *o.Bitrate
		}
		return BitrateThreshold{Service: o.Service, Comparison: or(o.Comparison, CompareLess), Bitrate: bitrate}, nil
	case KindDescramblingState:
		return DescramblingState{Service: o.Service, State: or(o.State, DefaultDescrambling)}, nil
	case KindSourceActive:
		return SourceActive{Service: o.Service, Source: o.Source}, nil
	case KindConnectionStatus:
		return ConnectionStatus{}, nil
	case KindAnyServiceRunning:
		return AnyServiceRunning{}, nil
	case KindAllServicesStopped:
		return AllServicesStopped{}, nil
	case KindSatelliteInputStatus:
		return SatelliteInputStatus{ServiceName: o.ServiceName, Check: or(o.Check, CheckRFLock), Threshold: o.threshold(0)}, nil
	case KindASIInputStatus:
		return ASIInputStatus{ServiceName: o.ServiceName, Check: or(o.Check, CheckReceiving), Threshold: o.threshold(DefaultASIThreshold)}, nil
	case KindServiceBlocked:
		return ServiceBlocked{ServiceName: o.ServiceName}, nil
	case KindProgramDetected:
		return ProgramDetected{ServiceName: o.ServiceName, Program: o.Program}, nil
	case KindDecodeState:
		return DecodeState{
			ServiceName: o.ServiceName,
			StreamType:  or(o.StreamType, DefaultDecodeStream),
			Check:       or(o.Check, CheckActive),
			MatchValue:  o.MatchValue,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}
