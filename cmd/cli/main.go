package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"fennmark/watchpost/internal/collect"
	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/hwprobe"
	"fennmark/watchpost/internal/logging"
	"fennmark/watchpost/internal/provision"
	"fennmark/watchpost/internal/pve"
	"fennmark/watchpost/internal/release"
	"fennmark/watchpost/internal/render"
	"fennmark/watchpost/internal/update"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		if errors.Is(err, collect.ErrCancelled) {
			logger.Warn("installation cancelled")
			os.Exit(1)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

type globalOptions struct {
	logLevel string
	verbose  bool
	dryRun   bool
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	opts := &globalOptions{logLevel: defaultLogLevel}

	root := &cobra.Command{
		Use:           "watchpost",
		Short:         "Provision and update an NVR deployment in a Proxmox container",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Shorthand for --log-level debug")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "Log mutating operations instead of running them")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(opts.logLevel)
		if err != nil {
			return err
		}
		if opts.verbose {
			level = slog.LevelDebug
		}
		levelVar.Set(level)
		return nil
	}

	root.AddCommand(
		newInstallCommand(logger, opts),
		newUpdateCommand(logger, opts),
		newProbeCommand(logger),
	)
	return root
}

func newPVEClient(logger *slog.Logger, opts *globalOptions, storage string) *pve.Client {
	return &pve.Client{
		Logger:  logger.With("component", "pve"),
		DryRun:  opts.dryRun,
		Storage: storage,
	}
}

// requireHost rejects runs outside a privileged Proxmox shell. Skipped in
// dry-run mode so the pipeline can be rehearsed anywhere.
func requireHost(opts *globalOptions) error {
	if opts.dryRun {
		return nil
	}
	if err := pve.RequireRoot(); err != nil {
		return err
	}
	return pve.RequireTools()
}

func newInstallCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var (
		storage     string
		storagePath string
		template    string
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Interactively provision a new container running the NVR application",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireHost(opts); err != nil {
				return err
			}
			ctx := cmd.Context()
			cmdLogger := logger.With("command", "install")

			client := newPVEClient(logger, opts, storage)

			prober := &hwprobe.Prober{Logger: logger.With("component", "hwprobe")}
			profile := prober.Probe(ctx)

			collector := &collect.Collector{
				Logger: logger.With("component", "collect"),
				IDs:    client,
			}
			settings, err := collector.Collect(ctx, profile)
			if err != nil {
				return err
			}

			artifacts := render.Render(settings, profile)

			seq := &provision.Sequencer{
				Client:      client,
				Logger:      logger.With("component", "provision"),
				Template:    template,
				StoragePath: storagePath,
				Confirm:     confirmOnStdin,
			}
			if err := seq.Provision(ctx, settings, profile, artifacts); err != nil {
				return err
			}

			cmdLogger.Info("installation finished",
				"container", settings.ContainerID,
				"web_port", settings.WebPort,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&storage, "storage", "local-lvm", "Storage backing the container rootfs")
	cmd.Flags().StringVar(&storagePath, "storage-path", "/var/lib/vz", "Mount point checked for free space")
	cmd.Flags().StringVar(&template, "template", provision.DefaultTemplate, "Container template to create from")

	return cmd
}

func newUpdateCommand(logger *slog.Logger, opts *globalOptions) *cobra.Command {
	var (
		id            int
		version       string
		snapshot      bool
		snapshotLabel string
		indexURL      string
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an existing deployment to a new application version",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id < 100 || id > 999 {
				return fmt.Errorf("--id must be a container ID between 100 and 999")
			}
			if err := requireHost(opts); err != nil {
				return err
			}

			seq := &update.Sequencer{
				Client: newPVEClient(logger, opts, ""),
				Releases: &release.Client{
					Logger:   logger.With("component", "release"),
					IndexURL: indexURL,
				},
				Logger: logger.With("command", "update"),
			}

			req := deploy.UpdateRequest{
				ContainerID:   id,
				TargetVersion: version,
				Snapshot:      snapshot || snapshotLabel != "",
				SnapshotLabel: snapshotLabel,
			}
			return seq.Update(cmd.Context(), req)
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "Container ID of the deployment to update")
	cmd.Flags().StringVar(&version, "version", "", "Target version: a literal tag, 'latest', or 'beta' (interactive menu when omitted)")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "Snapshot the container before updating")
	cmd.Flags().StringVar(&snapshotLabel, "snapshot-label", "", "Label for the pre-update snapshot (implies --snapshot)")
	cmd.Flags().StringVar(&indexURL, "release-index", "", "Override the release index URL")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func newProbeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Detect and print the host hardware profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			prober := &hwprobe.Prober{Logger: logger.With("component", "hwprobe")}
			profile := prober.Probe(cmd.Context())

			fmt.Printf("CPU:         %s\n", profile.CPUModel)
			fmt.Printf("Accelerator: %s\n", profile.Accelerator)
			fmt.Printf("Coral:       %s\n", profile.Coral)
			return nil
		},
	}
}

// confirmOnStdin asks a yes/no question on the terminal; default no.
func confirmOnStdin(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
