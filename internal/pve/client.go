// Package pve wraps the Proxmox container tooling (pct, pvesh) behind a
// small client. Every operation is one synchronous invocation of the
// external tool; the client adds argument construction, logging, and the
// dry-run guard, nothing else.
package pve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/logging"
)

// CommandError reports an external tool exiting non-zero.
type CommandError struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out != "" {
		return fmt.Sprintf("%s %s: %v: %s", e.Name, strings.Join(e.Args, " "), e.Err, out)
	}
	return fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes a host command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// RequireRoot rejects unprivileged invocations: every pct/pvesh call
// below needs root on the Proxmox host.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("must run as root on the Proxmox host")
	}
	return nil
}

// RequireTools verifies the Proxmox CLI tools are reachable.
func RequireTools() error {
	for _, name := range []string{"pct", "pvesh"} {
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%s not found: %w", name, err)
		}
	}
	return nil
}

// Client drives one Proxmox host. The zero value with a Storage is
// usable; tests inject a Runner, dry-run mode replaces every mutating
// call with a logged no-op.
type Client struct {
	Logger  *slog.Logger
	Runner  Runner
	DryRun  bool
	Storage string // rootfs storage name, e.g. local-lvm
}

func (c *Client) logger() *slog.Logger {
	return logging.Ensure(c.Logger)
}

func (c *Client) runner() Runner {
	if c.Runner != nil {
		return c.Runner
	}
	return execRunner{}
}

func (c *Client) storage() string {
	if c.Storage != "" {
		return c.Storage
	}
	return "local-lvm"
}

// run executes a read-only query; it always runs, dry-run or not.
func (c *Client) run(ctx context.Context, name string, args ...string) (string, error) {
	c.logger().Debug("running command", "command", name, "args", strings.Join(args, " "))
	out, err := c.runner().Run(ctx, name, args...)
	if err != nil {
		return out, &CommandError{Name: name, Args: args, Output: out, Err: err}
	}
	return out, nil
}

// mutate executes a state-changing command, or logs and skips it in
// dry-run mode.
func (c *Client) mutate(ctx context.Context, name string, args ...string) (string, error) {
	if c.DryRun {
		c.logger().Info("dry-run: skipping", "command", name, "args", strings.Join(args, " "))
		return "", nil
	}
	return c.run(ctx, name, args...)
}

// NextFreeID asks the cluster for the next unused container/VM ID.
func (c *Client) NextFreeID(ctx context.Context) (int, error) {
	out, err := c.run(ctx, "pvesh", "get", "/cluster/nextid")
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`)))
	if err != nil {
		return 0, fmt.Errorf("parse next free ID %q: %w", strings.TrimSpace(out), err)
	}
	return id, nil
}

// ExistingIDs lists the container IDs already present on this node.
func (c *Client) ExistingIDs(ctx context.Context) (map[int]bool, error) {
	out, err := c.run(ctx, "pct", "list")
	if err != nil {
		return nil, err
	}
	ids := make(map[int]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			continue // header or malformed line
		}
		ids[id] = true
	}
	return ids, nil
}

// Create provisions a new container from the given template using the
// collected settings. The root credential is applied later via exec, not
// at create time, so it never appears in the process list.
func (c *Client) Create(ctx context.Context, settings deploy.DeploymentSettings, template string) error {
	args := []string{
		"create", strconv.Itoa(settings.ContainerID), template,
		"--hostname", settings.Hostname,
		"--cores", strconv.Itoa(settings.Cores),
		"--memory", strconv.Itoa(settings.MemoryMB),
		"--rootfs", fmt.Sprintf("%s:%d", c.storage(), settings.DiskGB),
		"--net0", netSpec(settings.Network),
		"--unprivileged", "0",
		"--features", "nesting=1",
		"--onboot", "1",
	}
	if settings.Network.DNS != "" {
		args = append(args, "--nameserver", settings.Network.DNS)
	}
	_, err := c.mutate(ctx, "pct", args...)
	return err
}

func netSpec(n deploy.NetworkConfig) string {
	spec := fmt.Sprintf("name=eth0,bridge=%s", n.Bridge)
	if n.Mode == deploy.NetworkStatic {
		spec += fmt.Sprintf(",ip=%s,gw=%s", n.Address, n.Gateway)
	} else {
		spec += ",ip=dhcp"
	}
	return spec
}

// AppendConfig appends raw lines to the container's LXC config, used for
// device passthrough entries pct has no first-class flags for.
func (c *Client) AppendConfig(ctx context.Context, id int, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	path := fmt.Sprintf("/etc/pve/lxc/%d.conf", id)
	if c.DryRun {
		c.logger().Info("dry-run: skipping config append", "path", path, "lines", strings.Join(lines, "; "))
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// Start boots the container.
func (c *Client) Start(ctx context.Context, id int) error {
	_, err := c.mutate(ctx, "pct", "start", strconv.Itoa(id))
	return err
}

// Stop force-stops the container.
func (c *Client) Stop(ctx context.Context, id int) error {
	_, err := c.mutate(ctx, "pct", "stop", strconv.Itoa(id))
	return err
}

// Destroy removes the container and its storage.
func (c *Client) Destroy(ctx context.Context, id int) error {
	_, err := c.mutate(ctx, "pct", "destroy", strconv.Itoa(id), "--purge")
	return err
}

// Status reports the container state ("running", "stopped", ...).
func (c *Client) Status(ctx context.Context, id int) (string, error) {
	out, err := c.run(ctx, "pct", "status", strconv.Itoa(id))
	if err != nil {
		return "", err
	}
	// pct prints "status: running"
	_, state, found := strings.Cut(strings.TrimSpace(out), ":")
	if !found {
		return "", fmt.Errorf("unexpected pct status output %q", strings.TrimSpace(out))
	}
	return strings.TrimSpace(state), nil
}

// Exec runs a shell command inside the container and returns its output.
// Treated as mutating: most exec calls in the pipelines change guest
// state, and dry-run must not assume a container exists.
func (c *Client) Exec(ctx context.Context, id int, command string) (string, error) {
	return c.mutate(ctx, "pct", "exec", strconv.Itoa(id), "--", "sh", "-c", command)
}

// Push copies a local file into the container filesystem.
func (c *Client) Push(ctx context.Context, id int, localPath, destPath string, perms string) error {
	_, err := c.mutate(ctx, "pct", "push", strconv.Itoa(id), localPath, destPath, "--perms", perms)
	return err
}

// Snapshot captures the container state under the given name.
func (c *Client) Snapshot(ctx context.Context, id int, name, description string) error {
	_, err := c.mutate(ctx, "pct", "snapshot", strconv.Itoa(id), name, "--description", description)
	return err
}
