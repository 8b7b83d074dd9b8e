// Package registry implements the name -> port service table: a linear
// probe for registration and a linear bounded-length compare for lookup
// (spec §4.7 "Service Registry").
package registry

import "github.com/Maxencejules/hybrid-go-os/kernel/config"

type entry struct {
	name  [config.ServiceNameLen]byte
	nameN int
	port  uint32
	inUse bool
}

var entries [config.MaxServiceEntries]entry

// Register linear-probes for a free slot and copies name (bounded to
// config.ServiceNameLen) alongside port. It returns 0 on success and -1 if
// the table is full. Names are advisory: Register does not validate that
// port exists (spec §4.7).
func Register(name string, port uint32) int {
	for i := range entries {
		if !entries[i].inUse {
			n := copy(entries[i].name[:], name)
			entries[i].nameN = n
			entries[i].port = port
			entries[i].inUse = true
			return 0
		}
	}
	return -1
}

// Lookup linear-scans for the first entry whose bounded-length name
// matches name exactly, returning its port, or 0 if none matches.
func Lookup(name string) uint32 {
	for i := range entries {
		if !entries[i].inUse {
			continue
		}
		if entries[i].nameN == len(name) && string(entries[i].name[:entries[i].nameN]) == name {
			return entries[i].port
		}
	}
	return 0
}
