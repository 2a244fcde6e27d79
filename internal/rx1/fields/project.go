// Package fields turns the receiver snapshot into flat observable fields.
//
// Project enumerates the declared field set (definitions) and the
// *Values functions derive current values. Every value the derivation
// functions can emit has a definition in the projected set for the same
// snapshot, and every absent upstream value falls back to the single
// default table.
package fields

import (
	"sort"
	"strconv"

	"github.com/nerrad567/rx1-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rx1-bridge/internal/rx1/format"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

// Count field ids.
const (
	FieldTotalServices   = "total_services"
	FieldRunningServices = "running_services"
	FieldStoppedServices = "stopped_services"
	FieldBlockedServices = "blocked_services"
)

// Source slot names. Source index 0 is primary; every later index maps to
// secondary.
const (
	SourcePrimary   = "primary"
	SourceSecondary = "secondary"
)

// Layout fixes how many hardware slots and audio groups get fields.
type Layout struct {
	SDIPorts     int
	PCIeSlots    int
	AudioStreams int
}

// DefaultLayout is 5 SDI ports, 4 PCIe slots and 8 audio streams.
func DefaultLayout() Layout {
	return Layout{SDIPorts: 5, PCIeSlots: 4, AudioStreams: 8}
}

// LayoutFromConfig converts the config section, keeping defaults for
// unset counts.
func LayoutFromConfig(cfg config.LayoutConfig) Layout {
	l := DefaultLayout()
	if cfg.SDIPorts > 0 {
		l.SDIPorts = cfg.SDIPorts
	}
	if cfg.PCIeSlots > 0 {
		l.PCIeSlots = cfg.PCIeSlots
	}
	if cfg.AudioStreams > 0 {
		l.AudioStreams = cfg.AudioStreams
	}
	return l
}

// Definition declares one observable field.
type Definition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Set is an ordered, immutable set of definitions.
type Set struct {
	defs  []Definition
	index map[string]struct{}
}

func newSet(capacity int) *Set {
	return &Set{
		defs:  make([]Definition, 0, capacity),
		index: make(map[string]struct{}, capacity),
	}
}

// add appends a definition unless the id is already declared. Services
// whose names collide after sanitizing share their fields.
func (s *Set) add(id, name string) {
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = struct{}{}
	s.defs = append(s.defs, Definition{ID: id, Name: name})
}

// Definitions returns a copy of the definitions in declaration order.
func (s *Set) Definitions() []Definition {
	out := make([]Definition, len(s.defs))
	copy(out, s.defs)
	return out
}

// Len returns the number of declared fields.
func (s *Set) Len() int {
	return len(s.defs)
}

// Contains reports whether id is declared.
func (s *Set) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Filter splits values into those declared in the set and the sorted ids
// of those that are not.
func (s *Set) Filter(values Values) (Values, []string) {
	kept := make(Values, len(values))
	var dropped []string
	for id, v := range values {
		if s.Contains(id) {
			kept[id] = v
		} else {
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	return kept, dropped
}

// Project enumerates the declared field set for the snapshot: fixed
// server and count fields, layout-sized SDI and PCIe fields, and the
// per-service groups for every listed service.
func Project(r snapshot.Reader, layout Layout) *Set {
	services := r.Services()
	perService := len(serviceFields) + 2*(len(sourceFields)+len(satelliteFields)) +
		len(decodeFields) + len(videoFields) + layout.AudioStreams*len(audioFields) + len(outputFields)
	set := newSet(len(serverFields) + len(countFields) +
		layout.SDIPorts*len(sdiFields) + layout.PCIeSlots*len(pcieFields) + len(services)*perService)

	for _, f := range serverFields {
		set.add(f.key, f.label)
	}
	for _, f := range countFields {
		set.add(f.key, f.label)
	}
	for i := 0; i < layout.SDIPorts; i++ {
		n := strconv.Itoa(i)
		for _, f := range sdiFields {
			set.add(SDIPortField(i, f.key), "SDI Port "+n+" "+f.label)
		}
	}
	for i := 0; i < layout.PCIeSlots; i++ {
		n := strconv.Itoa(i)
		for _, f := range pcieFields {
			set.add(PCIeSlotField(i, f.key), "PCIe Slot "+n+" "+f.label)
		}
	}

	for _, svc := range services {
		name := svc.ServiceName
		for _, f := range serviceFields {
			set.add(ServiceField(name, f.key), name+" "+f.label)
		}
		for _, src := range []string{SourcePrimary, SourceSecondary} {
			for _, f := range sourceFields {
				set.add(SourceField(name, src, f.key), name+" "+src+" "+f.label)
			}
			for _, f := range satelliteFields {
				set.add(SourceField(name, src, f.key), name+" "+src+" "+f.label)
			}
		}
		for _, f := range decodeFields {
			set.add(ServiceField(name, f.key), name+" "+f.label)
		}
		for _, f := range videoFields {
			set.add(ServiceField(name, f.key), name+" "+f.label)
		}
		for n := 1; n <= layout.AudioStreams; n++ {
			for _, f := range audioFields {
				set.add(AudioField(name, n, f.key), name+" Audio "+strconv.Itoa(n)+" "+f.label)
			}
		}
		for _, f := range outputFields {
			set.add(ServiceField(name, f.key), name+" "+f.label)
		}
	}
	return set
}

// ServiceField returns service_<sanitized name>_<key>.
func ServiceField(serviceName, key string) string {
	return "service_" + format.SanitizeIdentifier(serviceName) + "_" + key
}

// SourceField returns service_<sanitized name>_<src>_<key>.
func SourceField(serviceName, src, key string) string {
	return ServiceField(serviceName, src+"_"+key)
}

// AudioField returns service_<sanitized name>_audio<n>_<key>.
func AudioField(serviceName string, n int, key string) string {
	return ServiceField(serviceName, "audio"+strconv.Itoa(n)+"_"+key)
}

// SDIPortField returns sdi_port_<i>_<key>.
func SDIPortField(i int, key string) string {
	return "sdi_port_" + strconv.Itoa(i) + "_" + key
}

// PCIeSlotField returns pcie_slot_<i>_<key>.
func PCIeSlotField(i int, key string) string {
	return "pcie_slot_" + strconv.Itoa(i) + "_" + key
}

// SourceName maps a source index to its slot name.
func SourceName(idx int) string {
	if idx == 0 {
		return SourcePrimary
	}
	return SourceSecondary
}
