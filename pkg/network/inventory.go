package network

import (
	"context"
	"regexp"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Inventory is the set of VXLAN devices believed to exist on the host. It
// is seeded from the kernel at startup and then kept up to date by the
// Manager; it is never re-verified.
type Inventory struct {
	devices sets.Set[string]
}

// NewInventory returns an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{devices: sets.New[string]()}
}

func (inv *Inventory) Add(name string)      { inv.devices.Insert(name) }
func (inv *Inventory) Delete(name string)   { inv.devices.Delete(name) }
func (inv *Inventory) Has(name string) bool { return inv.devices.Has(name) }
func (inv *Inventory) Len() int             { return inv.devices.Len() }

// List returns the device names in sorted order.
func (inv *Inventory) List() []string {
	return sets.List(inv.devices)
}

// Sync adds every VXLAN device the driver reports.
func (inv *Inventory) Sync(ctx context.Context, driver KernelDriver) (int, error) {
	names, err := driver.ListVxlanDevices(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		inv.Add(name)
	}
	return len(names), nil
}

// "12: Vxlan3000: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1450 ..."
var netDevPattern = regexp.MustCompile(`^\d+:\s+([^:@\s]+)`)

// ParseNetDevices extracts device names from `ip link show` output.
// Continuation lines (link/ether ...) are skipped.
func ParseNetDevices(out string) []string {
	var names []string
	for _, line := range strings.Split(out, "\n") {
		m := netDevPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		names = append(names, m[1])
	}
	return names
}
