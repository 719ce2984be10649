package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	nw "github.com/glennswest/vnetmgr/pkg/network"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandError is returned when an ip command exits with an error.
type CommandError struct {
	Cmd    string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Cmd, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// outputContains reports whether err is a CommandError whose output
// mentions any of the given messages.
func outputContains(err error, msgs ...string) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	for _, msg := range msgs {
		if strings.Contains(cmdErr.Output, msg) {
			return true
		}
	}
	return false
}

// IPRoute implements nw.KernelDriver by running iproute2 commands.
type IPRoute struct {
	binary string
	runner Runner
	log    *zap.SugaredLogger
}

// NewIPRoute returns a driver running binary (normally /sbin/ip). A nil
// runner executes real commands.
func NewIPRoute(binary string, runner Runner, log *zap.SugaredLogger) *IPRoute {
	if binary == "" {
		binary = "/sbin/ip"
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &IPRoute{
		binary: binary,
		runner: runner,
		log:    log.Named("iproute-driver"),
	}
}

func (d *IPRoute) run(ctx context.Context, args ...string) (string, error) {
	d.log.Debugw("exec", "cmd", d.binary, "args", args)
	out, err := d.runner.Run(ctx, d.binary, args...)
	if err != nil {
		return string(out), &CommandError{
			Cmd:    d.binary + " " + strings.Join(args, " "),
			Output: string(out),
			Err:    err,
		}
	}
	return string(out), nil
}

// ─── Link Operations ────────────────────────────────────────────────────────

func (d *IPRoute) CreateVxlan(ctx context.Context, spec nw.VxlanSpec) error {
	args := []string{"link", "add", spec.Name}
	if spec.MAC != nil {
		args = append(args, "address", spec.MAC.String())
	}
	args = append(args, "type", "vxlan", "id", spec.VNI.String())
	if spec.Local != nil {
		args = append(args, "local", spec.Local.String())
	}
	if spec.Remote != nil {
		args = append(args, "remote", spec.Remote.String())
	}
	args = append(args, "dstport", strconv.Itoa(int(spec.Port)))

	if _, err := d.run(ctx, args...); err != nil {
		if outputContains(err, "File exists") {
			d.log.Debugw("vxlan device exists", "name", spec.Name)
			return nil
		}
		return err
	}
	d.log.Infow("vxlan device created", "name", spec.Name, "vni", spec.VNI)
	return nil
}

func (d *IPRoute) DeleteVxlan(ctx context.Context, name string) error {
	if _, err := d.run(ctx, "link", "del", name); err != nil {
		if outputContains(err, "Cannot find device", "does not exist") {
			d.log.Debugw("vxlan device already gone", "name", name)
			return nil
		}
		return err
	}
	d.log.Infow("vxlan device deleted", "name", name)
	return nil
}

func (d *IPRoute) ListVxlanDevices(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, "link", "show", "type", "vxlan")
	if err != nil {
		return nil, err
	}
	return nw.ParseNetDevices(out), nil
}

func (d *IPRoute) AttachToVrf(ctx context.Context, dev, vrf string) error {
	_, err := d.run(ctx, "link", "set", "dev", dev, "vrf", vrf)
	return err
}

func (d *IPRoute) SetLinkUp(ctx context.Context, dev string) error {
	_, err := d.run(ctx, "link", "set", "dev", dev, "up")
	return err
}

// ─── Route / Neighbor Operations ────────────────────────────────────────────

func (d *IPRoute) AddRoute(ctx context.Context, prefix *net.IPNet, dev, vrf string) error {
	_, err := d.run(ctx, "route", "replace", prefix.String(), "dev", dev, "vrf", vrf)
	return err
}

func (d *IPRoute) AddNeighbor(ctx context.Context, ip net.IP, mac net.HardwareAddr, dev string) error {
	_, err := d.run(ctx, "neigh", "replace", ip.String(), "lladdr", mac.String(), "dev", dev)
	return err
}

func (d *IPRoute) Name() string { return "iproute" }

var _ nw.KernelDriver = (*IPRoute)(nil)
