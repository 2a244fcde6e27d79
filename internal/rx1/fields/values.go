package fields

import (
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/format"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Values maps field ids to current values.
type Values map[string]any

// Merge copies other into v, overwriting existing ids.
func (v Values) Merge(other Values) {
	for id, val := range other {
		v[id] = val
	}
}

// Default lookups per group. The template keys match buildDefaults.
func serviceDefault(key string) any { return Default(servicePrefixTemplate+key) }
func sourceDefault(key string) any {
	return Default(servicePrefixTemplate+placeholderSource+"_"+key)
}
func audioDefault(key string) any {
	return Default(servicePrefixTemplate+"audio"+placeholderIndex+"_"+key)
}
func sdiDefault(key string) any  { return Default("sdi_port_"+placeholderIndex+"_"+key) }
func pcieDefault(key string) any { return Default("pcie_slot_"+placeholderIndex+"_"+key) }

func orString(v string, def any) any {
	if v == "" {
		return def
	}
	return v
}

func orNumber[T int | int64 | float64](v T, def any) any {
	if v == 0 {
		return def
	}
	return v
}

func orFloatPtr(v *float64, def any) any {
	if v == nil || *v == 0 {
		return def
	}
	return *v
}

// ServiceListValues derives the per-service list fields and the
// total/running/stopped counts.
func ServiceListValues(services []rx1.Service) Values {
	vals := make(Values, len(services)*4+3)
	running, stopped := 0, 0
	for _, svc := range services {
		name := svc.ServiceName
		vals[ServiceField(name, "state")] = string(svc.State)
		vals[ServiceField(name, "type")] = svc.ServiceType
		vals[ServiceField(name, "id")] = svc.ServiceID
		vals[ServiceField(name, "state_modified")] = orString(svc.StateModifiedAt, serviceDefault("state_modified"))

		switch svc.State {
		case rx1.StateStarted:
			running++
		case rx1.StateStopped:
			stopped++
		}
	}
	vals[FieldTotalServices] = len(services)
	vals[FieldRunningServices] = running
	vals[FieldStoppedServices] = stopped
	return vals
}

// ServerValues derives the server, SDI port and PCIe slot fields. SDI
// ports are cross-referenced to services by name. Ports and slots beyond
// the layout are not written.
func ServerValues(status *rx1.ServerStatus, services []rx1.Service, layout Layout) Values {
	if status == nil {
		return Values{}
	}

	chassis := status.ChassisName
	if chassis == "" {
		chassis = status.ProductName
	}

	vals := Values{
		"server_uptime":       orString(status.Uptime, Default("server_uptime")),
		"server_uptime_sec":   orNumber(status.UptimeSec.Int64(), Default("server_uptime_sec")),
		"server_chassis":      orString(chassis, Default("server_chassis")),
		"server_product_name": orString(status.ProductName, Default("server_product_name")),
		"server_datetime":     orString(status.DateTime, Default("server_datetime")),
		"server_mem_size":     orNumber(status.MemSizeGByte, Default("server_mem_size")),
		"server_disk_size":    orNumber(status.DiskSizeGByte, Default("server_disk_size")),
		"server_tpm":          format.YesNo(status.TPM),
		"server_version":      orString(status.Version, Default("server_version")),
		"server_id":           orString(status.ID, Default("server_id")),
	}

	for i, port := range status.SDIPorts {
		if i >= layout.SDIPorts {
			break
		}
		vals[SDIPortField(i, "type")] = orString(port.Type, sdiDefault("type"))
		vals[SDIPortField(i, "service")] = orString(port.ServiceName, sdiDefault("service"))

		svcType, svcState, active := sdiDefault("service_type"), sdiDefault("service_state"), sdiDefault("output_active")
		if port.ServiceName != "" {
			svcType, svcState, active = "Unknown", "Unknown", format.No
			if svc, ok := findByName(services, port.ServiceName); ok {
				svcType = orString(svc.ServiceType, "Unknown")
				svcState = orString(string(svc.State), "Unknown")
				active = format.YesNo(svc.State == rx1.StateStarted)
			}
		}
		vals[SDIPortField(i, "service_type")] = svcType
		vals[SDIPortField(i, "service_state")] = svcState
		vals[SDIPortField(i, "output_active")] = active
	}

	for i, slot := range status.PCIeSlots {
		if i >= layout.PCIeSlots {
			break
		}
		desc, part := pcieDefault("desc"), pcieDefault("part")
		if slot != nil {
			desc = orString(slot.Description, desc)
			part = orString(slot.PartNumber, part)
		}
		vals[PCIeSlotField(i, "desc")] = desc
		vals[PCIeSlotField(i, "part")] = part
	}
	return vals
}

func findByName(services []rx1.Service, name string) (rx1.Service, bool) {
	for _, svc := range services {
		if svc.ServiceName == name {
			return svc, true
		}
	}
	return rx1.Service{}, false
}

// ServiceValues derives the detailed fields of one service from its
// status. Sub-records that are absent produce no fields; absent scalars
// inside a present sub-record take their defaults.
func ServiceValues(serviceName string, status *rx1.ServiceStatus, layout Layout) Values {
	vals := Values{}
	if status == nil {
		return vals
	}
	id := func(key string) string { return ServiceField(serviceName, key) }

	vals[id("uptime")] = orNumber(status.UptimeSec.Int64(), serviceDefault("uptime"))
	vals[id("running_state")] = orString(status.RunningState, serviceDefault("running_state"))

	if in := status.Inputs; in != nil {
		active := "Secondary"
		if in.ActiveSourceIndex != nil && *in.ActiveSourceIndex == 0 {
			active = "Primary"
		}
		vals[id("active_source")] = active
		vals[id("network_id")] = orNumber(in.NetworkID.Int64(), serviceDefault("network_id"))
		vals[id("orig_network_id")] = orNumber(in.OriginalNetworkID.Int64(), serviceDefault("orig_network_id"))
		vals[id("ts_id")] = orNumber(in.TransportStreamID.Int64(), serviceDefault("ts_id"))
		vals[id("program_count")] = len(in.MPTSPrograms)

		for idx := range in.Sources {
			sourceValues(vals, serviceName, SourceName(idx), &in.Sources[idx])
		}
	}

	if status.Processings != nil && status.Processings.Decode != nil {
		decodeValues(vals, serviceName, status.Processings.Decode, layout)
	}

	if len(status.Outputs) > 0 {
		out := status.Outputs[0]
		vals[id("output_type")] = orString(out.Type, serviceDefault("output_type"))
		switch out.Type {
		case rx1.OutputSDI:
			vals[id("sdi_port")] = orString(out.Port.String(), serviceDefault("sdi_port"))
			vals[id("remote_prod_status")] = orString(out.RemoteProductionMasterSlaveStatus, serviceDefault("remote_prod_status"))
		case rx1.OutputUDP:
			if len(out.Multicasts) > 0 {
				vals[id("udp_packets")] = orNumber(out.Multicasts[0].UDPOutputPacketCount.Int64(), serviceDefault("udp_packets"))
			}
		}
	}
	return vals
}

func sourceValues(vals Values, serviceName, src string, s *rx1.Source) {
	id := func(key string) string { return SourceField(serviceName, src, key) }

	vals[id("type")] = orString(s.Type, sourceDefault("type"))
	vals[id("receiving")] = format.YesNo(s.Receiving)
	vals[id("bitrate")] = format.Bitrate(s.BitRate, s.Receiving)
	vals[id("bitrate_raw")] = orFloatPtr(s.BitRate, sourceDefault("bitrate_raw"))
	vals[id("cc_errors")] = orNumber(s.CCError.Int64(), sourceDefault("cc_errors"))
	vals[id("pid_errors")] = orNumber(s.PIDError.Int64(), sourceDefault("pid_errors"))
	vals[id("pmt_errors")] = orNumber(s.PMTError.Int64(), sourceDefault("pmt_errors"))
	vals[id("sync_errors")] = orNumber(s.SyncByteError.Int64(), sourceDefault("sync_errors"))
	vals[id("transport_errors")] = orNumber(s.TransportError.Int64(), sourceDefault("transport_errors"))
	vals[id("sync_loss")] = orNumber(s.TSSyncLoss.Int64(), sourceDefault("sync_loss"))

	if s.Type != rx1.SourceTypeSatellite {
		return
	}
	vals[id("ber")] = orString(s.BER.String(), sourceDefault("ber"))
	vals[id("cn_margin")] = orFloatPtr(s.CNMargin, sourceDefault("cn_margin"))
	vals[id("fec_rate")] = orString(s.FECRate, sourceDefault("fec_rate"))
	vals[id("modulation")] = orString(s.Modulation, sourceDefault("modulation"))
	vals[id("rf_lock")] = format.YesNo(s.RFLock)
	vals[id("signal_strength")] = orFloatPtr(s.SignalStrength, sourceDefault("signal_strength"))
	vals[id("delivery")] = orString(s.DeliverySystem, sourceDefault("delivery"))
}

func decodeValues(vals Values, serviceName string, d *rx1.Decode, layout Layout) {
	id := func(key string) string { return ServiceField(serviceName, key) }

	vals[id("program_number")] = orNumber(d.ProgramNumber.Int(), serviceDefault("program_number"))
	vals[id("program_auto")] = format.YesNo(d.ProgramAutoSelected)
	vals[id("descrambling")] = orString(d.DescramblingState, serviceDefault("descrambling"))

	if v := d.VideoStream(); v != nil {
		decoding := v.Width > 0 && v.Height > 0
		framerate := serviceDefault("video_framerate")
		if v.FrameRateNumerator != 0 && v.FrameRateDenominator != 0 {
			framerate = v.FrameRateNumerator.String() + "/" + v.FrameRateDenominator.String()
		}
		vals[id("video_pid")] = orNumber(v.PID.Int(), serviceDefault("video_pid"))
		vals[id("video_bitrate")] = format.Bitrate(v.BitRate, decoding)
		vals[id("video_bitrate_raw")] = orFloatPtr(v.BitRate, serviceDefault("video_bitrate_raw"))
		vals[id("video_width")] = orNumber(v.Width.Int(), serviceDefault("video_width"))
		vals[id("video_height")] = orNumber(v.Height.Int(), serviceDefault("video_height"))
		vals[id("video_resolution")] = v.Width.String() + "x" + v.Height.String()
		vals[id("video_interlaced")] = format.YesNo(v.Interlaced)
		vals[id("video_framerate")] = framerate
		vals[id("video_codec")] = orString(v.Codec, serviceDefault("video_codec"))
		vals[id("video_chroma")] = orString(v.ChromaFormat, serviceDefault("video_chroma"))
	}

	for i, a := range d.AudioStreams() {
		n := i + 1
		if n > layout.AudioStreams {
			break
		}
		id := func(key string) string { return AudioField(serviceName, n, key) }
		vals[id("pid")] = orNumber(a.PID.Int(), audioDefault("pid"))
		vals[id("lang")] = orString(a.Language, audioDefault("lang"))
		vals[id("codec")] = orString(a.Codec, audioDefault("codec"))
		vals[id("bitrate")] = format.Bitrate(a.BitRate, true)
		vals[id("bitrate_raw")] = orFloatPtr(a.BitRate, audioDefault("bitrate_raw"))
		vals[id("samplerate")] = orNumber(a.SamplingRate.Int(), audioDefault("samplerate"))
		vals[id("channels")] = orNumber(a.ChannelCount.Int(), audioDefault("channels"))
	}
}

// OfflineValues is the subset written when a service's status fetch fails.
func OfflineValues(serviceName string) Values {
	return Values{
		SourceField(serviceName, SourcePrimary, "bitrate"):     format.NoData,
		SourceField(serviceName, SourceSecondary, "bitrate"):   format.NoData,
		ServiceField(serviceName, "video_bitrate"):             format.NoData,
		ServiceField(serviceName, "running_state"):             rx1.RunningStateOffline,
		SourceField(serviceName, SourcePrimary, "receiving"):   format.No,
		SourceField(serviceName, SourceSecondary, "receiving"): format.No,
	}
}

// BlockedCount counts listed services whose stored status is blocked.
func BlockedCount(r snapshot.Reader) int {
	count := 0
	for _, svc := range r.Services() {
		if status, ok := r.ServiceStatus(svc.ServiceName); ok && status.Blocked() {
			count++
		}
	}
	return count
}
