package network

import (
	"fmt"
	"strconv"
)

// Config table field names.
const (
	fieldVxlanTunnel     = "vxlan_tunnel"
	fieldSourceIP        = "src_ip"
	fieldSourceMAC       = "src_mac"
	fieldMACAddress      = "mac_address"
	fieldEndpoint        = "endpoint"
	fieldInstallOnKernel = "install_on_kernel"
	fieldVNI             = "vni"
	fieldVxlanSrcPort    = "vxlan_sport"

	switchKey = "switch"

	// nullValue marks an attribute that was not supplied.
	nullValue = "NULL"
)

// MaxVNI is the largest 24-bit VXLAN network identifier.
const MaxVNI = 1<<24 - 1

// VNI is a VXLAN network identifier.
type VNI uint32

// ParseVNI parses a decimal VNI. Leading zeros are accepted, so "02000" and
// "2000" name the same segment.
func ParseVNI(s string) (VNI, error) {
	if s == "" || s == nullValue {
		return 0, fmt.Errorf("vni not set")
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid vni %q: %w", s, err)
	}
	if n > MaxVNI {
		return 0, fmt.Errorf("vni %d out of range (max %d)", n, MaxVNI)
	}
	return VNI(n), nil
}

func (v VNI) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// Status is the outcome of processing one record.
type Status int

const (
	// Applied records are fully processed and leave the queue.
	Applied Status = iota
	// Deferred records stay queued and are retried on the next pass.
	Deferred
	// Rejected records can never be processed and are dropped.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Deferred:
		return "deferred"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Tunnel is a declared VXLAN tunnel endpoint.
type Tunnel struct {
	Name     string `json:"name"`
	SourceIP string `json:"srcIP"` // "NULL" until set
}

// Vnet is a virtual network resolved against its tunnel.
type Vnet struct {
	Name      string `json:"name"`
	Tunnel    string `json:"vxlanTunnel"`
	SourceIP  string `json:"srcIP"` // copied from the tunnel at creation
	VNI       VNI    `json:"vni"`
	SourceMAC string `json:"srcMAC,omitempty"`
}

// RouteTunnel is the declared intent for a remote route reached through a
// VXLAN tunnel. Absent attributes hold "NULL".
type RouteTunnel struct {
	Name            string `json:"name"` // config key, "<vnet>|<prefix>"
	Vnet            string `json:"vnet"`
	Prefix          string `json:"prefix"`
	Endpoint        string `json:"endpoint"`
	MACAddress      string `json:"macAddress"`
	VNI             string `json:"vni"`
	InstallOnKernel bool   `json:"installOnKernel"`
}

// KernelRoute records a route whose kernel objects were all created. It is
// the only source used to undo a route.
type KernelRoute struct {
	Name   string `json:"name"`
	Vnet   string `json:"vnet"`
	Prefix string `json:"prefix"`
	DstMAC string `json:"dstMAC"`
	DstIP  string `json:"dstIP"`
	SrcIP  string `json:"srcIP"`
	SrcMAC string `json:"srcMAC,omitempty"`
	VNI    VNI    `json:"vni"`
	Device string `json:"device"`
	Port   uint16 `json:"port"`
}
