package rx1

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ServiceState is the controllable state of a service.
type ServiceState string

// Service states reported by GET /api/services.
const (
	StateStarted ServiceState = "started"
	StateStopped ServiceState = "stopped"
)

// RunningStateOffline is stored for a service whose status fetch failed.
const RunningStateOffline = "offline"

// Service is one controllable processing unit on the receiver.
type Service struct {
	ServiceID       string       `json:"serviceId"`
	ServiceName     string       `json:"serviceName"`
	ServiceType     string       `json:"serviceType"`
	State           ServiceState `json:"state"`
	StateModifiedAt string       `json:"stateModifiedAt,omitempty"`
}

// Ref returns the "type/id" reference commands and conditions use.
func (s Service) Ref() string {
	return s.ServiceType + "/" + s.ServiceID
}

// Label returns "name (type)" for pickers.
func (s Service) Label() string {
	return s.ServiceName + " (" + s.ServiceType + ")"
}

// ServerStatus is the chassis-level statistics record.
type ServerStatus struct {
	ID            string          `json:"id,omitempty"`
	Uptime        string          `json:"uptime,omitempty"`
	UptimeSec     Count           `json:"uptimeSec,omitempty"`
	ChassisName   string          `json:"chassisName,omitempty"`
	ProductName   string          `json:"productName,omitempty"`
	DateTime      string          `json:"dateTime,omitempty"`
	MemSizeGByte  float64         `json:"memSizeGByte,omitempty"`
	DiskSizeGByte float64         `json:"diskSizeGByte,omitempty"`
	TPM           bool            `json:"tpm,omitempty"`
	Version       string          `json:"version,omitempty"`
	SDIPorts      []SDIPort       `json:"sdiPorts,omitempty"`
	PCIeSlots     []*PCIeSlot     `json:"pcieSlots,omitempty"`
	Services      []ServiceStatus `json:"services,omitempty"`
}

// SDIPort is a physical SDI output, optionally bound to a service by name.
type SDIPort struct {
	Type        string `json:"type,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// PCIeSlot describes an installed card. A nil slot is an empty slot.
type PCIeSlot struct {
	Description string `json:"description,omitempty"`
	PartNumber  string `json:"partNumber,omitempty"`
}

// ServiceStatus is the detailed per-service statistics record.
type ServiceStatus struct {
	ID           string       `json:"id,omitempty"`
	UptimeSec    Count        `json:"uptimeSec,omitempty"`
	RunningState string       `json:"runningState,omitempty"`
	Inputs       *Inputs      `json:"inputs,omitempty"`
	Processings  *Processings `json:"processings,omitempty"`
	Outputs      []Output     `json:"outputs,omitempty"`
}

// Blocked reports whether the running state mentions "blocked".
func (s *ServiceStatus) Blocked() bool {
	return s != nil && strings.Contains(s.RunningState, "blocked")
}

// OfflineServiceStatus is stored when a service's status cannot be fetched.
func OfflineServiceStatus() *ServiceStatus {
	return &ServiceStatus{RunningState: RunningStateOffline}
}

// Inputs describes the input stage of a service.
type Inputs struct {
	ActiveSourceIndex *Count    `json:"activeSourceIndex,omitempty"`
	NetworkID         Count     `json:"networkId,omitempty"`
	OriginalNetworkID Count     `json:"originalNetworkId,omitempty"`
	TransportStreamID Count     `json:"transportStreamId,omitempty"`
	MPTSPrograms      []Program `json:"mptsPrograms,omitempty"`
	Sources           []Source  `json:"sources,omitempty"`
}

// ActiveSource returns the source at activeSourceIndex (0 when absent),
// or nil when there is no such source.
func (in *Inputs) ActiveSource() *Source {
	if in == nil {
		return nil
	}
	idx := 0
	if in.ActiveSourceIndex != nil {
		idx = in.ActiveSourceIndex.Int()
	}
	if idx < 0 || idx >= len(in.Sources) {
		return nil
	}
	return &in.Sources[idx]
}

// Program is one program of a multi-program transport stream.
type Program struct {
	ProgramNumber Count `json:"programNumber"`
}

// Source types the bridge distinguishes.
const (
	SourceTypeSatellite = "sat"
	SourceTypeASI       = "asi"
)

// Source is one input source. Satellite fields are only present when
// Type is "sat".
type Source struct {
	Type           string   `json:"type,omitempty"`
	Receiving      bool     `json:"receiving,omitempty"`
	BitRate        *float64 `json:"bitRate,omitempty"`
	CCError        Count    `json:"ccError,omitempty"`
	PIDError       Count    `json:"pidError,omitempty"`
	PMTError       Count    `json:"pmtError,omitempty"`
	SyncByteError  Count    `json:"syncByteError,omitempty"`
	TransportError Count    `json:"transportError,omitempty"`
	TSSyncLoss     Count    `json:"tsSyncLoss,omitempty"`

	BER            Scalar   `json:"ber,omitzero"`
	CNMargin       *float64 `json:"cnMargin,omitempty"`
	FECRate        string   `json:"fecRate,omitempty"`
	Modulation     string   `json:"modulation,omitempty"`
	RFLock         bool     `json:"rfLock,omitempty"`
	SignalStrength *float64 `json:"signalStrength,omitempty"`
	DeliverySystem string   `json:"deliverySystem,omitempty"`
}

// Processings holds the processing stages of a service.
type Processings struct {
	Decode *Decode `json:"decode,omitempty"`
}

// Descrambling states.
const (
	DescramblingClear       = "clear"
	DescramblingScrambled   = "scrambled"
	DescramblingDescrambled = "descrambled"
	DescramblingUnknown     = "unknown"
)

// Decode is the decoder stage.
type Decode struct {
	ProgramNumber       Count    `json:"programNumber,omitempty"`
	ProgramAutoSelected bool     `json:"programAutoSelected,omitempty"`
	DescramblingState   string   `json:"descramblingState,omitempty"`
	Streams             []Stream `json:"streams,omitempty"`
}

// Stream types.
const (
	StreamVideo = "video"
	StreamAudio = "audio"
)

// VideoStream returns the first video stream, or nil.
func (d *Decode) VideoStream() *Stream {
	if d == nil {
		return nil
	}
	for i := range d.Streams {
		if d.Streams[i].Type == StreamVideo {
			return &d.Streams[i]
		}
	}
	return nil
}

// AudioStreams returns every audio stream in order.
func (d *Decode) AudioStreams() []Stream {
	if d == nil {
		return nil
	}
	var audio []Stream
	for _, s := range d.Streams {
		if s.Type == StreamAudio {
			audio = append(audio, s)
		}
	}
	return audio
}

// Stream is one elementary stream in the decoder.
type Stream struct {
	Type                 string   `json:"type,omitempty"`
	PID                  Count    `json:"pid,omitempty"`
	BitRate              *float64 `json:"bitRate,omitempty"`
	Width                Count    `json:"width,omitempty"`
	Height               Count    `json:"height,omitempty"`
	Interlaced           bool     `json:"interlaced,omitempty"`
	FrameRateNumerator   Count    `json:"frameRateNumerator,omitempty"`
	FrameRateDenominator Count    `json:"frameRateDenominator,omitempty"`
	Codec                string   `json:"codec,omitempty"`
	ChromaFormat         string   `json:"chromaFormat,omitempty"`
	Language             string   `json:"language,omitempty"`
	SamplingRate         Count    `json:"samplingRate,omitempty"`
	ChannelCount         Count    `json:"channelCount,omitempty"`
}

// Output types.
const (
	OutputSDI = "sdiOutput"
	OutputUDP = "udpOutput"
)

// Output is one output of a service. Only the first is observed.
type Output struct {
	Type                              string      `json:"type,omitempty"`
	Port                              Scalar      `json:"port,omitzero"`
	RemoteProductionMasterSlaveStatus string      `json:"remoteProductionMasterSlaveStatus,omitempty"`
	Multicasts                        []Multicast `json:"multicasts,omitempty"`
}

// Multicast is one UDP multicast destination.
type Multicast struct {
	UDPOutputPacketCount Count `json:"udpOutputPacketCount,omitempty"`
}

// Scalar holds a JSON string or number as its textual form. The device
// reports some fields (BER, SDI port) as either, and Scalar re-emits
// whichever kind it decoded.
type Scalar struct {
	text   string
	number bool
}

// StringScalar returns a Scalar that encodes as a JSON string.
func StringScalar(s string) Scalar {
	return Scalar{text: s}
}

// NumberScalar returns a Scalar that encodes as a JSON number when s is a
// valid JSON number, and as a string otherwise.
func NumberScalar(s string) Scalar {
	return Scalar{text: s, number: true}
}

// UnmarshalJSON accepts a string, a number or null.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Scalar{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = StringScalar(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = NumberScalar(n.String())
	return nil
}

// MarshalJSON emits a number only for numeric Scalars holding a valid JSON
// number. Everything else, including "NaN" and "Inf", is emitted as a string.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.number && isJSONNumber(s.text) {
		return []byte(s.text), nil
	}
	return json.Marshal(s.text)
}

// IsZero reports whether the Scalar is empty, for omitzero.
func (s Scalar) IsZero() bool {
	return s.text == ""
}

// String returns the textual form.
func (s Scalar) String() string {
	return s.text
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

// Count is a device counter. The device usually reports integers but
// occasionally sends fractional numbers or numeric strings; those are
// truncated toward zero. Values that are not numbers at all decode as 0
// so one odd field never fails the whole record.
type Count int64

// UnmarshalJSON accepts an integer, a fractional number, a numeric string
// or null.
func (c *Count) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	text := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
	}
	*c = parseCount(text)
	return nil
}

func parseCount(text string) Count {
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Count(n)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return Count(f)
}

// Int returns the counter as an int.
func (c Count) Int() int {
	return int(c)
}

// Int64 returns the counter as an int64.
func (c Count) Int64() int64 {
	return int64(c)
}

// String returns the decimal form.
func (c Count) String() string {
	return strconv.FormatInt(int64(c), 10)
}
