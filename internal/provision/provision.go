// Package provision drives the installation pipeline: a strict linear
// sequence of steps that turns validated settings and rendered artifacts
// into a running deployment. Each step runs exactly once; the first
// failure aborts the whole pipeline. Steps are not proven idempotent, so
// the sequencer never resumes mid-pipeline — after a failure the operator
// fixes the root cause and restarts from scratch.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/logging"
	"fennmark/watchpost/internal/pve"
	"fennmark/watchpost/internal/render"
)

// DefaultTemplate is the container template used when the operator does
// not override it.
const DefaultTemplate = "local:vztmpl/debian-12-standard_12.7-1_amd64.tar.zst"

// Error reports the pipeline failing at a named step.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provisioning failed at %q: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sequencer executes the provisioning pipeline against one Proxmox host.
type Sequencer struct {
	Client *pve.Client
	Logger *slog.Logger

	// Template is the rootfs template passed to create.
	Template string
	// StoragePath is statfs'd for the free-space check before create.
	StoragePath string
	// Confirm asks the operator a yes/no question; used only for the
	// teardown offer after a failure. Nil declines.
	Confirm func(prompt string) bool

	// Network readiness poll bounds.
	WaitTimeout  time.Duration
	PollInterval time.Duration
}

func (s *Sequencer) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

func (s *Sequencer) template() string {
	if s.Template != "" {
		return s.Template
	}
	return DefaultTemplate
}

func (s *Sequencer) storagePath() string {
	if s.StoragePath != "" {
		return s.StoragePath
	}
	return "/var/lib/vz"
}

func (s *Sequencer) waitBounds() (time.Duration, time.Duration) {
	timeout, interval := s.WaitTimeout, s.PollInterval
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return timeout, interval
}

type step struct {
	name string
	skip bool
	run  func(ctx context.Context) error
}

// Provision runs the pipeline. On failure it offers to destroy the
// partially created container, then returns a *Error naming the failed
// step.
func (s *Sequencer) Provision(ctx context.Context, settings deploy.DeploymentSettings, profile deploy.HardwareProfile, artifacts deploy.RenderedArtifacts) error {
	logger := s.logger().With("container", settings.ContainerID)

	created := false
	steps := []step{
		{name: "create container", run: func(ctx context.Context) error {
			if err := s.checkFreeSpace(settings.DiskGB); err != nil {
				return err
			}
			if err := s.Client.Create(ctx, settings, s.template()); err != nil {
				return err
			}
			created = true
			return nil
		}},
		{name: "configure device passthrough", run: func(ctx context.Context) error {
			return s.Client.AppendConfig(ctx, settings.ContainerID, render.PassthroughLines(settings, profile))
		}},
		{name: "start container", run: func(ctx context.Context) error {
			return s.Client.Start(ctx, settings.ContainerID)
		}},
		{name: "wait for network", run: func(ctx context.Context) error {
			return s.waitForNetwork(ctx, settings.ContainerID)
		}},
		{name: "install container runtime", run: func(ctx context.Context) error {
			return s.installRuntime(ctx, settings.ContainerID)
		}},
		{name: "create directories", run: func(ctx context.Context) error {
			_, err := s.Client.Exec(ctx, settings.ContainerID,
				fmt.Sprintf("mkdir -p %s %s %s", render.ConfigDir, render.StorageDir, render.MediaDir))
			return err
		}},
		{name: "write manifest", run: func(ctx context.Context) error {
			return s.pushFile(ctx, settings.ContainerID, artifacts.Manifest, render.ManifestPath)
		}},
		{name: "write app config", run: func(ctx context.Context) error {
			return s.pushFile(ctx, settings.ContainerID, artifacts.AppConfig, render.AppConfigPath)
		}},
		{name: "set root credential", run: func(ctx context.Context) error {
			_, err := s.Client.Exec(ctx, settings.ContainerID,
				fmt.Sprintf("printf '%%s\\n' %s | chpasswd", shQuote("root:"+settings.RootPassword)))
			return err
		}},
		{name: "configure ssh", skip: !settings.SSH.Enabled, run: func(ctx context.Context) error {
			return s.configureSSH(ctx, settings)
		}},
		{name: "configure samba", skip: !settings.Samba.Enabled, run: func(ctx context.Context) error {
			return s.configureSamba(ctx, settings)
		}},
		{name: "start application", run: func(ctx context.Context) error {
			_, err := s.Client.Exec(ctx, settings.ContainerID,
				fmt.Sprintf("cd %s && docker compose up -d", render.AppDir))
			return err
		}},
	}

	for _, st := range steps {
		if st.skip {
			logger.Info("skipping step", "step", st.name)
			continue
		}
		logger.Info("running step", "step", st.name)
		if err := st.run(ctx); err != nil {
			logger.Error("step failed", "step", st.name, "error", err)
			if created {
				s.offerTeardown(ctx, settings.ContainerID)
			}
			return &Error{Step: st.name, Err: err}
		}
	}

	logger.Info("provisioning complete",
		"web", fmt.Sprintf("port %d", settings.WebPort),
		"image_tag", settings.ImageTag,
	)
	return nil
}

// shQuote single-quotes a value for interpolation into an sh -c command.
// Embedded single quotes become the '\'' dance.
func shQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// checkFreeSpace rejects a create that cannot fit the requested rootfs.
func (s *Sequencer) checkFreeSpace(diskGB int) error {
	free, err := pve.FreeSpaceGB(s.storagePath())
	if err != nil {
		// Statfs failing is not proof of missing space; log and proceed.
		s.logger().Warn("free-space check failed", "path", s.storagePath(), "error", err)
		return nil
	}
	if free < diskGB {
		return errors.Errorf("insufficient free space on %s: %d GB available, %d GB requested", s.storagePath(), free, diskGB)
	}
	return nil
}

// waitForNetwork polls until the container reports a global address, up
// to the configured bound. Skipped entirely in dry-run mode, where no
// container exists to query.
func (s *Sequencer) waitForNetwork(ctx context.Context, id int) error {
	if s.Client.DryRun {
		return nil
	}
	timeout, interval := s.waitBounds()
	deadline := time.Now().Add(timeout)
	for {
		out, err := s.Client.Exec(ctx, id, "ip -4 -o addr show scope global")
		if err == nil && strings.TrimSpace(out) != "" {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Errorf("container %d did not acquire an address within %s", id, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (s *Sequencer) installRuntime(ctx context.Context, id int) error {
	commands := []string{
		"apt-get update",
		"DEBIAN_FRONTEND=noninteractive apt-get install -y ca-certificates curl docker.io docker-compose-v2",
		"systemctl enable --now docker",
	}
	for _, command := range commands {
		if _, err := s.Client.Exec(ctx, id, command); err != nil {
			return errors.Wrapf(err, "run %q", command)
		}
	}
	return nil
}

// pushFile stages the artifact in a local temp file and pushes it into
// the container.
func (s *Sequencer) pushFile(ctx context.Context, id int, content, destPath string) error {
	staging := filepath.Join(os.TempDir(), "watchpost-"+uuid.NewString())
	if err := os.WriteFile(staging, []byte(content), 0o600); err != nil {
		return errors.Wrap(err, "stage artifact")
	}
	defer os.Remove(staging)
	return s.Client.Push(ctx, id, staging, destPath, "644")
}

func (s *Sequencer) configureSSH(ctx context.Context, settings deploy.DeploymentSettings) error {
	id := settings.ContainerID
	user := shQuote(settings.SSH.Username)
	commands := []string{
		"DEBIAN_FRONTEND=noninteractive apt-get install -y openssh-server",
		fmt.Sprintf("id -u %s >/dev/null 2>&1 || useradd -m -s /bin/bash %s", user, user),
		fmt.Sprintf("printf '%%s\\n' %s | chpasswd", shQuote(settings.SSH.Username+":"+settings.SSH.Password)),
		"systemctl enable --now ssh",
	}
	for _, command := range commands {
		if _, err := s.Client.Exec(ctx, id, command); err != nil {
			return errors.Wrap(err, "configure ssh access")
		}
	}
	return nil
}

func (s *Sequencer) configureSamba(ctx context.Context, settings deploy.DeploymentSettings) error {
	credential, err := settings.SambaCredential()
	if err != nil {
		// Unreachable for validated settings; treat as an assertion.
		return err
	}
	user := settings.SambaUser()

	share := strings.Join([]string{
		"[media]",
		"   path = " + render.MediaDir,
		"   browseable = yes",
		"   read only = no",
		"   valid users = " + user,
	}, "\n")

	id := settings.ContainerID
	commands := []string{
		"DEBIAN_FRONTEND=noninteractive apt-get install -y samba",
		fmt.Sprintf("printf '%%s\\n' %s >> /etc/samba/smb.conf", shQuote(share)),
		fmt.Sprintf("printf '%%s\\n%%s\\n' %s %s | smbpasswd -a -s %s", shQuote(credential), shQuote(credential), shQuote(user)),
		"systemctl enable --now smbd",
	}
	for _, command := range commands {
		if _, err := s.Client.Exec(ctx, id, command); err != nil {
			return errors.Wrap(err, "configure media share")
		}
	}
	return nil
}

// offerTeardown asks the operator whether to destroy the partially
// created container. Cleanup is best effort: stop/destroy failures are
// logged, never returned, since the primary failure dominates.
func (s *Sequencer) offerTeardown(ctx context.Context, id int) {
	if s.Confirm == nil || !s.Confirm(fmt.Sprintf("Destroy partially created container %d?", id)) {
		s.logger().Info("leaving container in place", "container", id)
		return
	}

	var cleanup error
	if err := s.Client.Stop(ctx, id); err != nil {
		cleanup = multierror.Append(cleanup, err)
	}
	if err := s.Client.Destroy(ctx, id); err != nil {
		cleanup = multierror.Append(cleanup, err)
	}
	if cleanup != nil {
		s.logger().Warn("cleanup incomplete", "container", id, "error", cleanup)
		return
	}
	s.logger().Info("container destroyed", "container", id)
}
