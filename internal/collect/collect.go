// Package collect gathers the operator's deployment choices into one
// validated settings record. Prompting is a loop per field: invalid input
// is recovered locally by asking again, never surfaced to the caller.
// The only failure modes are exhausted input and the operator declining
// the final confirmation.
package collect

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/term"

	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/logging"
)

// ErrCancelled reports the operator declining the final confirmation.
// A normal exit path, not a pipeline failure.
var ErrCancelled = errors.New("installation cancelled by operator")

// IDSource answers container-ID queries; satisfied by the pve client.
type IDSource interface {
	NextFreeID(ctx context.Context) (int, error)
	ExistingIDs(ctx context.Context) (map[int]bool, error)
}

// Collector drives the interactive settings dialog.
type Collector struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
	IDs    IDSource

	// Bridges lists candidate host bridges. Defaults to netlink
	// enumeration.
	Bridges func() []string
	// ReadSecret reads one credential without echo. Defaults to terminal
	// no-echo input with a plain-line fallback.
	ReadSecret func(label string) (string, error)
	// HostMemoryMB reports installed host memory for the sizing default.
	HostMemoryMB func() int

	reader *bufio.Reader
	ctx    context.Context
}

func (c *Collector) logger() *slog.Logger {
	return logging.Ensure(c.Logger)
}

func (c *Collector) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

func (c *Collector) input() *bufio.Reader {
	if c.reader == nil {
		in := c.In
		if in == nil {
			in = os.Stdin
		}
		c.reader = bufio.NewReader(in)
	}
	return c.reader
}

// Collect runs the full dialog and returns validated settings.
func (c *Collector) Collect(ctx context.Context, profile deploy.HardwareProfile) (deploy.DeploymentSettings, error) {
	var settings deploy.DeploymentSettings
	c.ctx = ctx

	id, err := c.collectContainerID(ctx)
	if err != nil {
		return settings, err
	}
	settings.ContainerID = id

	if settings.Hostname, err = c.promptString("Hostname", "nvr", notEmpty); err != nil {
		return settings, err
	}
	if settings.Cores, err = c.promptInt("CPU cores", 2, 1, 128); err != nil {
		return settings, err
	}
	if settings.MemoryMB, err = c.promptInt("Memory (MB)", c.defaultMemoryMB(), 512, 1<<20); err != nil {
		return settings, err
	}
	if settings.DiskGB, err = c.promptInt("Disk size (GB)", 20, 4, 1<<16); err != nil {
		return settings, err
	}

	if settings.Network, err = c.collectNetwork(); err != nil {
		return settings, err
	}

	if profile.Accelerator.Present() {
		label := fmt.Sprintf("Enable hardware acceleration (%s)", profile.Accelerator)
		if settings.AccelEnabled, err = c.promptBool(label, true); err != nil {
			return settings, err
		}
	}

	if settings.WebPort, err = c.promptInt("Web interface port", 5000, 1, 65535); err != nil {
		return settings, err
	}
	if settings.ImageTag, err = c.promptString("Image tag", "stable", notEmpty); err != nil {
		return settings, err
	}
	if settings.VendorExample, err = c.promptBool("Include Reolink camera example", false); err != nil {
		return settings, err
	}

	if settings.RootPassword, err = c.promptSecret("Root password"); err != nil {
		return settings, err
	}

	if settings.SSH.Enabled, err = c.promptBool("Enable SSH access", false); err != nil {
		return settings, err
	}
	if settings.SSH.Enabled {
		if settings.SSH.Username, err = c.promptString("SSH username", "viewer", notEmpty); err != nil {
			return settings, err
		}
		if settings.SSH.Password, err = c.promptSecret("SSH password"); err != nil {
			return settings, err
		}
	}

	if settings.Samba.Enabled, err = c.promptBool("Enable media share (Samba)", false); err != nil {
		return settings, err
	}
	// Without SSH the share needs its own credential; with SSH it reuses
	// the SSH one.
	if settings.Samba.Enabled && !settings.SSH.Enabled {
		if settings.Samba.Password, err = c.promptSecret("Samba password"); err != nil {
			return settings, err
		}
	}

	if err := settings.Validate(); err != nil {
		// The prompts above enforce every invariant; reaching this is a
		// programming error, not operator input.
		return settings, fmt.Errorf("collected settings failed validation: %w", err)
	}

	c.printSummary(settings, profile)
	confirmed, err := c.promptBool("Proceed with installation", true)
	if err != nil {
		return settings, err
	}
	if !confirmed {
		return settings, ErrCancelled
	}
	return settings, nil
}

func (c *Collector) collectContainerID(ctx context.Context) (int, error) {
	def := 0
	if c.IDs != nil {
		if id, err := c.IDs.NextFreeID(ctx); err == nil && id >= 100 && id <= 999 {
			def = id
		} else if err != nil {
			c.logger().Debug("next free ID lookup failed", "error", err)
		}
	}
	if def == 0 {
		def = 100
	}

	var existing map[int]bool
	if c.IDs != nil {
		ids, err := c.IDs.ExistingIDs(ctx)
		if err != nil {
			c.logger().Debug("existing ID lookup failed", "error", err)
		} else {
			existing = ids
		}
	}

	for {
		id, err := c.promptInt("Container ID", def, 100, 999)
		if err != nil {
			return 0, err
		}
		if existing[id] {
			fmt.Fprintf(c.out(), "Container %d already exists, pick another ID.\n", id)
			continue
		}
		return id, nil
	}
}

func (c *Collector) collectNetwork() (deploy.NetworkConfig, error) {
	var network deploy.NetworkConfig

	bridges := []string{"vmbr0"}
	if c.Bridges != nil {
		if found := c.Bridges(); len(found) > 0 {
			bridges = found
		}
	} else if found := hostBridges(); len(found) > 0 {
		bridges = found
	}

	bridge, err := c.promptChoice("Network bridge", bridges, bridges[0])
	if err != nil {
		return network, err
	}
	network.Bridge = bridge

	static, err := c.promptBool("Use a static address (instead of DHCP)", false)
	if err != nil {
		return network, err
	}
	if !static {
		network.Mode = deploy.NetworkDHCP
	} else {
		network.Mode = deploy.NetworkStatic
		if network.Address, err = c.promptString("Address (CIDR)", "", validCIDR); err != nil {
			return network, err
		}
		if network.Gateway, err = c.promptString("Gateway", "", validIP); err != nil {
			return network, err
		}
	}
	if network.DNS, err = c.promptString("DNS server (empty for default)", "", emptyOr(validIP)); err != nil {
		return network, err
	}
	return network, nil
}

func (c *Collector) defaultMemoryMB() int {
	if c.HostMemoryMB != nil {
		return clampMemoryDefault(c.HostMemoryMB())
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 4096
	}
	return clampMemoryDefault(int(vm.Total / (1 << 20)))
}

// clampMemoryDefault suggests half the host memory, within [1024, 4096].
func clampMemoryDefault(hostMB int) int {
	half := hostMB / 2
	if half > 4096 {
		return 4096
	}
	if half < 1024 {
		return 1024
	}
	return half
}

func (c *Collector) printSummary(settings deploy.DeploymentSettings, profile deploy.HardwareProfile) {
	w := c.out()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Deployment summary:")
	fmt.Fprintf(w, "  Container:    %d (%s)\n", settings.ContainerID, settings.Hostname)
	fmt.Fprintf(w, "  Resources:    %d cores, %d MB RAM, %d GB disk\n", settings.Cores, settings.MemoryMB, settings.DiskGB)
	if settings.Network.Mode == deploy.NetworkStatic {
		fmt.Fprintf(w, "  Network:      %s static %s via %s\n", settings.Network.Bridge, settings.Network.Address, settings.Network.Gateway)
	} else {
		fmt.Fprintf(w, "  Network:      %s DHCP\n", settings.Network.Bridge)
	}
	fmt.Fprintf(w, "  Acceleration: %s (enabled: %t)\n", profile.Accelerator, settings.AccelEnabled)
	fmt.Fprintf(w, "  Coral:        %s\n", profile.Coral)
	fmt.Fprintf(w, "  Image tag:    %s, web port %d\n", settings.ImageTag, settings.WebPort)
	fmt.Fprintf(w, "  SSH: %t  Samba: %t\n", settings.SSH.Enabled, settings.Samba.Enabled)
	fmt.Fprintln(w)
}

func (c *Collector) readSecret(label string) (string, error) {
	if c.ctx != nil {
		if err := c.ctx.Err(); err != nil {
			return "", err
		}
	}
	if c.ReadSecret != nil {
		return c.ReadSecret(label)
	}
	if c.In == nil && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(c.out(), "%s: ", label)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(c.out())
		if err != nil {
			return "", fmt.Errorf("read credential: %w", err)
		}
		return string(raw), nil
	}
	fmt.Fprintf(c.out(), "%s: ", label)
	return c.readLine()
}
