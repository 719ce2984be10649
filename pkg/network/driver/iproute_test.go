package driver

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/glennswest/vnetmgr/pkg/config"
	nw "github.com/glennswest/vnetmgr/pkg/network"
)

// fakeRunner records command lines and answers from a canned table keyed
// by the joined arguments.
type fakeRunner struct {
	cmds    []string
	outputs map[string]string
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: map[string]string{}, errs: map[string]error{}}
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(args, " ")
	r.cmds = append(r.cmds, name+" "+line)
	return []byte(r.outputs[line]), r.errs[line]
}

func newTestIPRoute(r *fakeRunner) *IPRoute {
	return NewIPRoute("/sbin/ip", r, zap.NewNop().Sugar())
}

func TestIPRouteCreateSequence(t *testing.T) {
	r := newFakeRunner()
	d := newTestIPRoute(r)
	ctx := context.Background()

	mac, _ := net.ParseMAC("52:54:00:25:06:e9")
	spec := nw.VxlanSpec{
		Name:   "Vxlan3000",
		MAC:    mac,
		VNI:    3000,
		Local:  net.ParseIP("10.1.0.32"),
		Remote: net.ParseIP("10.1.0.33"),
		Port:   4789,
	}
	_, prefix, _ := net.ParseCIDR("100.100.1.1/32")

	steps := []error{
		d.CreateVxlan(ctx, spec),
		d.AttachToVrf(ctx, "Vxlan3000", "Vnet_2000"),
		d.SetLinkUp(ctx, "Vxlan3000"),
		d.AddRoute(ctx, prefix, "Vxlan3000", "Vnet_2000"),
		d.AddNeighbor(ctx, net.ParseIP("100.100.1.1").To4(), mac, "Vxlan3000"),
	}
	for i, err := range steps {
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	want := []string{
		"/sbin/ip link add Vxlan3000 address 52:54:00:25:06:e9 type vxlan id 3000 local 10.1.0.32 remote 10.1.0.33 dstport 4789",
		"/sbin/ip link set dev Vxlan3000 vrf Vnet_2000",
		"/sbin/ip link set dev Vxlan3000 up",
		"/sbin/ip route replace 100.100.1.1/32 dev Vxlan3000 vrf Vnet_2000",
		"/sbin/ip neigh replace 100.100.1.1 lladdr 52:54:00:25:06:e9 dev Vxlan3000",
	}
	if diff := cmp.Diff(want, r.cmds); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestIPRouteCreateVxlanOptionalFields(t *testing.T) {
	r := newFakeRunner()
	d := newTestIPRoute(r)

	err := d.CreateVxlan(context.Background(), nw.VxlanSpec{Name: "Vxlan7", VNI: 7, Port: 4790})
	if err != nil {
		t.Fatal(err)
	}
	want := "/sbin/ip link add Vxlan7 type vxlan id 7 dstport 4790"
	if r.cmds[0] != want {
		t.Errorf("got %q, want %q", r.cmds[0], want)
	}
}

func TestIPRouteIdempotency(t *testing.T) {
	r := newFakeRunner()
	r.outputs["link add Vxlan7 type vxlan id 7 dstport 4789"] = "RTNETLINK answers: File exists\n"
	r.errs["link add Vxlan7 type vxlan id 7 dstport 4789"] = errors.New("exit status 2")
	r.outputs["link del Vxlan7"] = "Cannot find device \"Vxlan7\"\n"
	r.errs["link del Vxlan7"] = errors.New("exit status 1")
	d := newTestIPRoute(r)
	ctx := context.Background()

	if err := d.CreateVxlan(ctx, nw.VxlanSpec{Name: "Vxlan7", VNI: 7, Port: 4789}); err != nil {
		t.Errorf("create of existing device should succeed: %v", err)
	}
	if err := d.DeleteVxlan(ctx, "Vxlan7"); err != nil {
		t.Errorf("delete of missing device should succeed: %v", err)
	}
}

func TestIPRouteCommandError(t *testing.T) {
	r := newFakeRunner()
	r.outputs["link set dev Vxlan7 vrf Vnet_1"] = "Cannot find device \"Vnet_1\"\n"
	r.errs["link set dev Vxlan7 vrf Vnet_1"] = errors.New("exit status 1")
	d := newTestIPRoute(r)

	err := d.AttachToVrf(context.Background(), "Vxlan7", "Vnet_1")
	if err == nil {
		t.Fatal("expected error")
	}
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.Cmd != "/sbin/ip link set dev Vxlan7 vrf Vnet_1" {
		t.Errorf("unexpected cmd %q", cmdErr.Cmd)
	}
	if !strings.Contains(err.Error(), "Cannot find device") {
		t.Errorf("error should carry command output: %v", err)
	}
}

func TestIPRouteListVxlanDevices(t *testing.T) {
	r := newFakeRunner()
	r.outputs["link show type vxlan"] = `12: Vxlan3000: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1450 qdisc noqueue master Vnet_2000 state UNKNOWN mode DEFAULT group default qlen 1000
    link/ether 52:54:00:25:06:e9 brd ff:ff:ff:ff:ff:ff
13: Vxlan4000: <BROADCAST,MULTICAST> mtu 1450 qdisc noop state DOWN mode DEFAULT group default qlen 1000
    link/ether 7a:11:2b:aa:01:02 brd ff:ff:ff:ff:ff:ff
`
	d := newTestIPRoute(r)

	got, err := d.ListVxlanDevices(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"Vxlan3000", "Vxlan4000"}, got); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

func TestNewSelectsDriver(t *testing.T) {
	log := zap.NewNop().Sugar()

	d, err := New(config.KernelConfig{Driver: config.DriverIPRoute, IPBinary: "/usr/sbin/ip"}, log)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name() != "iproute" {
		t.Errorf("expected iproute driver, got %s", d.Name())
	}

	if _, err := New(config.KernelConfig{Driver: "ovs"}, log); err == nil {
		t.Error("expected error for unknown driver")
	}
}
