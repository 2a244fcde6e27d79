package fields

import (
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/format"
)

// Template placeholders used in default table keys and label templates.
const (
	placeholderName   = "{name}"
	placeholderSource = "{src}"
	placeholderIndex  = "{n}"
)

// field declares one observable field: its key within its group, its
// label and the value used whenever the device omits it.
type field struct {
	key   string
	label string
	def   any
}

var serverFields = []field{
	{"server_uptime", "Server Uptime", "0 days 00:00:00"},
	{"server_uptime_sec", "Server Uptime Seconds", int64(0)},
	{"server_chassis", "Server Chassis", "Unknown"},
	{"server_product_name", "Server Product Name", "Unknown"},
	{"server_datetime", "Server DateTime", ""},
	{"server_mem_size", "Server Memory Size (GB)", float64(0)},
	{"server_disk_size", "Server Disk Size (GB)", float64(0)},
	{"server_tpm", "Server TPM", format.No},
	{"server_version", "Server Version", "Unknown"},
	{"server_id", "Server ID", rx1.DefaultServerID},
}

var countFields = []field{
	{FieldTotalServices, "Total Services", 0},
	{FieldRunningServices, "Running Services", 0},
	{FieldStoppedServices, "Stopped Services", 0},
	{FieldBlockedServices, "Blocked Services", 0},
}

// sdiFields describe sdi_port_{n}_<key>. The service_* defaults apply
// when the port names no service.
var sdiFields = []field{
	{"type", "Type", "Unknown"},
	{"service", "Service", "None"},
	{"service_type", "Service Type", "None"},
	{"service_state", "Service State", "None"},
	{"output_active", "Output Active", format.No},
}

var pcieFields = []field{
	{"desc", "Description", "Empty"},
	{"part", "Part Number", "N/A"},
}

// serviceFields describe service_{name}_<key>, in declaration order.
var serviceFields = []field{
	{"state", "State", ""},
	{"type", "Type", ""},
	{"id", "ID", ""},
	{"state_modified", "State Modified", ""},
	{"uptime", "Uptime", int64(0)},
	{"running_state", "Running State", "unknown"},
	{"active_source", "Active Source", "Secondary"},
	{"network_id", "Network ID", int64(0)},
	{"orig_network_id", "Original Network ID", int64(0)},
	{"ts_id", "Transport Stream ID", int64(0)},
	{"program_count", "Program Count", 0},
}

// sourceFields describe service_{name}_{src}_<key> for src in
// primary/secondary.
var sourceFields = []field{
	{"type", "Type", "unknown"},
	{"receiving", "Receiving", format.No},
	{"bitrate", "Bitrate", format.NoData},
	{"bitrate_raw", "Bitrate (Raw)", float64(0)},
	{"cc_errors", "CC Errors", int64(0)},
	{"pid_errors", "PID Errors", int64(0)},
	{"pmt_errors", "PMT Errors", int64(0)},
	{"sync_errors", "Sync Byte Errors", int64(0)},
	{"transport_errors", "Transport Errors", int64(0)},
	{"sync_loss", "TS Sync Loss", int64(0)},
}

// satelliteFields are only written for sources of type "sat".
var satelliteFields = []field{
	{"ber", "BER", "<1e-7"},
	{"cn_margin", "C/N Margin", float64(0)},
	{"fec_rate", "FEC Rate", "Unknown"},
	{"modulation", "Modulation", "Unknown"},
	{"rf_lock", "RF Lock", format.No},
	{"signal_strength", "Signal Strength", float64(0)},
	{"delivery", "Delivery System", "Unknown"},
}

var decodeFields = []field{
	{"program_number", "Program Number", 0},
	{"program_auto", "Program Auto Selected", format.No},
	{"descrambling", "Descrambling State", rx1.DescramblingUnknown},
}

var videoFields = []field{
	{"video_pid", "Video PID", 0},
	{"video_bitrate", "Video Bitrate", format.NoData},
	{"video_bitrate_raw", "Video Bitrate (Raw)", float64(0)},
	{"video_resolution", "Video Resolution", "0x0"},
	{"video_width", "Video Width", 0},
	{"video_height", "Video Height", 0},
	{"video_interlaced", "Video Interlaced", format.No},
	{"video_framerate", "Video Frame Rate", "Unknown"},
	{"video_codec", "Video Codec", "Unknown"},
	{"video_chroma", "Video Chroma Format", "Unknown"},
}

// audioFields describe service_{name}_audio{n}_<key>, n starting at 1.
var audioFields = []field{
	{"pid", "PID", 0},
	{"lang", "Language", "Unknown"},
	{"codec", "Codec", "Unknown"},
	{"bitrate", "Bitrate", format.NoData},
	{"bitrate_raw", "Bitrate (Raw)", float64(0)},
	{"samplerate", "Sample Rate", 0},
	{"channels", "Channels", 0},
}

var outputFields = []field{
	{"output_type", "Output Type", "Unknown"},
	{"sdi_port", "SDI Output Port", "Unknown"},
	{"remote_prod_status", "Remote Production Status", "N/A"},
	{"udp_packets", "UDP Output Packets", int64(0)},
}

// defaults maps every field template to the value used when the device
// omits it, e.g. "service_{name}_{src}_ber" -> "<1e-7".
var defaults = buildDefaults()

func buildDefaults() map[string]any {
	d := make(map[string]any)
	add := func(prefix string, group []field) {
		for _, f := range group {
			d[prefix+f.key] = f.def
		}
	}
	add("", serverFields)
	add("", countFields)
	add("sdi_port_"+placeholderIndex+"_", sdiFields)
	add("pcie_slot_"+placeholderIndex+"_", pcieFields)
	add(servicePrefixTemplate, serviceFields)
	add(servicePrefixTemplate+placeholderSource+"_", sourceFields)
	add(servicePrefixTemplate+placeholderSource+"_", satelliteFields)
	add(servicePrefixTemplate, decodeFields)
	add(servicePrefixTemplate, videoFields)
	add(servicePrefixTemplate+"audio"+placeholderIndex+"_", audioFields)
	add(servicePrefixTemplate, outputFields)
	return d
}

const servicePrefixTemplate = "service_" + placeholderName + "_"

// Default returns the declared default for a field template.
// Unknown templates yield nil.
func Default(template string) any {
	return defaults[template]
}
