package condition

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Evaluate reports whether c holds for the snapshot read through r.
func Evaluate(r snapshot.Reader, c Condition) bool {
	switch c := c.(type) {
	case ServiceState:
		ref, err := rx1.ParseServiceRef(c.Service)
		if err != nil {
			return false
		}
		svc, ok := r.FindService(ref.Type, ref.ID)
		return ok && string(svc.State) == c.State

	case ServiceReceiving:
		src := activeSource(r, c.Service)
		return src != nil && src.Receiving

	case InputAlarm:
		src := activeSource(r, c.Service)
		if src == nil {
			return false
		}
		return float64(alarmCount(src, c.AlarmType)) > c.Threshold

	case BitrateThreshold:
		src := activeSource(r, c.Service)
		if src == nil || src.BitRate == nil {
			return false
		}
		if c.Comparison == CompareLess {
			return *src.BitRate < c.Bitrate
		}
		return *src.BitRate > c.Bitrate

	case DescramblingState:
		status := statusByRef(r, c.Service)
		if status == nil || status.Processings == nil || status.Processings.Decode == nil {
			return false
		}
		return status.Processings.Decode.DescramblingState == c.State

	case SourceActive:
		status := statusByRef(r, c.Service)
		if status == nil || status.Inputs == nil || status.Inputs.ActiveSourceIndex == nil {
			return false
		}
		return status.Inputs.ActiveSourceIndex.Int() == c.Source

	case ConnectionStatus:
		return r.Connection() == snapshot.OK

	case AnyServiceRunning:
		for _, svc := range r.Services() {
			if svc.State == rx1.StateStarted {
				return true
			}
		}
		return false

	case AllServicesStopped:
		services := r.Services()
		if len(services) == 0 {
			return false
		}
		for _, svc := range services {
			if svc.State != rx1.StateStopped {
				return false
			}
		}
		return true

	case SatelliteInputStatus:
		src := sourceOfType(r, c.ServiceName, rx1.SourceTypeSatellite)
		if src == nil {
			return false
		}
		return satelliteCheck(src, c.Check, c.Threshold)

	case ASIInputStatus:
		src := sourceOfType(r, c.ServiceName, rx1.SourceTypeASI)
		if src == nil {
			return false
		}
		switch c.Check {
		case CheckReceiving:
			return src.Receiving
		case CheckBitrate:
			threshold := c.Threshold
			if threshold == 0 {
				threshold = DefaultASIThreshold
			}
			return src.BitRate != nil && *src.BitRate > threshold
		}
		return false

	case ServiceBlocked:
		status, ok := r.ServiceStatus(c.ServiceName)
		return ok && status.Blocked()

	case ProgramDetected:
		status, ok := r.ServiceStatus(c.ServiceName)
		if !ok || status.Inputs == nil {
			return false
		}
		programs := status.Inputs.MPTSPrograms
		if c.Program == 0 {
			return len(programs) > 0
		}
		for _, p := range programs {
			if p.ProgramNumber.Int() == c.Program {
				return true
			}
		}
		return false

	case DecodeState:
		return decodeCheck(r, c)
	}
	return false
}

// statusByRef resolves "type/id" to the stored status through the
// id-to-name index. The type part is not consulted.
func statusByRef(r snapshot.Reader, service string) *rx1.ServiceStatus {
	ref, err := rx1.ParseServiceRef(service)
	if err != nil {
		return nil
	}
	name, ok := r.NameForID(ref.ID)
	if !ok {
		return nil
	}
	status, ok := r.ServiceStatus(name)
	if !ok {
		return nil
	}
	return status
}

func activeSource(r snapshot.Reader, service string) *rx1.Source {
	status := statusByRef(r, service)
	if status == nil {
		return nil
	}
	return status.Inputs.ActiveSource()
}

func sourceOfType(r snapshot.Reader, serviceName, sourceType string) *rx1.Source {
	status, ok := r.ServiceStatus(serviceName)
	if !ok || status.Inputs == nil {
		return nil
	}
	for i := range status.Inputs.Sources {
		if status.Inputs.Sources[i].Type == sourceType {
			return &status.Inputs.Sources[i]
		}
	}
	return nil
}

func alarmCount(src *rx1.Source, alarmType string) int64 {
	switch alarmType {
	case AlarmCCError:
		return src.CCError.Int64()
	case AlarmTransportError:
		return src.TransportError.Int64()
	case AlarmTSSyncLoss:
		return src.TSSyncLoss.Int64()
	case AlarmPIDError:
		return src.PIDError.Int64()
	case AlarmPMTError:
		return src.PMTError.Int64()
	}
	return 0
}

func satelliteCheck(src *rx1.Source, check string, threshold float64) bool {
	switch check {
	case CheckRFLock:
		return src.RFLock
	case CheckReceiving:
		return src.Receiving
	case CheckBER:
		ber, ok := ParseLeadingFloat(src.BER.String())
		return ok && ber < threshold
	case CheckCNMargin:
		return src.CNMargin != nil && *src.CNMargin > threshold
	case CheckSignalStrength:
		return src.SignalStrength != nil && *src.SignalStrength > threshold
	}
	return false
}

func decodeCheck(r snapshot.Reader, c DecodeState) bool {
	status, ok := r.ServiceStatus(c.ServiceName)
	if !ok || status.Processings == nil || status.Processings.Decode == nil {
		return false
	}

	var stream *rx1.Stream
	streams := status.Processings.Decode.Streams
	for i := range streams {
		if streams[i].Type == c.StreamType {
			stream = &streams[i]
			break
		}
	}
	if stream == nil {
		return false
	}

	switch c.Check {
	case CheckActive:
		return true
	case CheckResolution:
		if c.StreamType != rx1.StreamVideo {
			return false
		}
		return stream.Width.String()+"x"+stream.Height.String() == c.MatchValue
	case CheckCodec:
		return stream.Codec == c.MatchValue
	}
	return false
}

var leadingFloat = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// ParseLeadingFloat parses the longest numeric prefix of s after leading
// whitespace, so "1.5E-08 (est)" yields 1.5e-8. It reports false when s
// has no numeric prefix.
func ParseLeadingFloat(s string) (float64, bool) {
	s = strings.TrimLeft(s, " \t\n\r\f\v")
	for _, inf := range []string{"Infinity", "+Infinity", "-Infinity"} {
		if strings.HasPrefix(s, inf) {
			if inf[0] == '-' {
				return math.Inf(-1), true
			}
			return math.Inf(1), true
		}
	}

	prefix := leadingFloat.FindString(s)
	if prefix == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(prefix, 64)
	if err != nil {
		// Overflowing exponents still parse to ±Inf.
		if errors.Is(err, strconv.ErrRange) {
			return v, true
		}
		return 0, false
	}
	return v, true
}
