// Package update drives the update pipeline against an existing
// deployment: resolve the target version, optionally snapshot, rewrite
// the manifest's image tag, pull, recreate. The snapshot always precedes
// any mutation; a snapshot failure aborts the whole update.
package update

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/logging"
	"fennmark/watchpost/internal/pve"
	"fennmark/watchpost/internal/release"
	"fennmark/watchpost/internal/render"
)

// menuSize is how many recent stable releases the interactive picker
// offers.
const menuSize = 5

// Error reports the update pipeline failing at a named step.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("update failed at %q: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Sequencer executes the update pipeline.
type Sequencer struct {
	Client   *pve.Client
	Releases *release.Client
	Logger   *slog.Logger

	// In/Out carry the interactive version menu. Default to stdin/stdout.
	In  io.Reader
	Out io.Writer
}

func (s *Sequencer) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

func (s *Sequencer) in() io.Reader {
	if s.In != nil {
		return s.In
	}
	return os.Stdin
}

func (s *Sequencer) out() io.Writer {
	if s.Out != nil {
		return s.Out
	}
	return os.Stdout
}

// Update runs the pipeline for one request.
func (s *Sequencer) Update(ctx context.Context, req deploy.UpdateRequest) error {
	logger := s.logger().With("container", req.ContainerID)

	version, err := s.resolveVersion(ctx, req.TargetVersion)
	if err != nil {
		return &Error{Step: "resolve version", Err: err}
	}
	logger.Info("resolved target version", "version", version)

	if s.Client.DryRun {
		logger.Info("dry-run: stopping before mutation", "version", version)
		return nil
	}

	if req.Snapshot {
		name := SnapshotName(req.SnapshotLabel, version)
		logger.Info("creating snapshot", "name", name)
		if err := s.Client.Snapshot(ctx, req.ContainerID, name, "before update to "+version); err != nil {
			return &Error{Step: "snapshot", Err: err}
		}
	}

	if err := s.rewriteManifest(ctx, req.ContainerID, version); err != nil {
		return &Error{Step: "rewrite manifest", Err: err}
	}

	if _, err := s.Client.Exec(ctx, req.ContainerID, fmt.Sprintf("cd %s && docker compose pull", render.AppDir)); err != nil {
		return &Error{Step: "pull", Err: err}
	}

	if _, err := s.Client.Exec(ctx, req.ContainerID, fmt.Sprintf("cd %s && docker compose up -d", render.AppDir)); err != nil {
		return &Error{Step: "recreate", Err: err}
	}

	logger.Info("update complete", "version", version)
	return nil
}

// resolveVersion turns the request's target into a concrete tag. Literal
// tags pass through unchanged; aliases query the release index; an empty
// target opens the interactive menu.
func (s *Sequencer) resolveVersion(ctx context.Context, target string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case deploy.VersionLatest:
		return s.Releases.Latest(ctx)
	case deploy.VersionBeta:
		return s.Releases.Beta(ctx)
	case "":
		return s.chooseVersion(ctx)
	default:
		return strings.TrimSpace(target), nil
	}
}

// chooseVersion offers the most recent stable releases plus a custom
// entry. An empty selection takes the newest stable release.
func (s *Sequencer) chooseVersion(ctx context.Context) (string, error) {
	recent, err := s.Releases.Recent(ctx, menuSize)
	if err != nil {
		return "", err
	}

	fmt.Fprintln(s.out(), "Available releases:")
	for i, r := range recent {
		fmt.Fprintf(s.out(), "  %d) %s\n", i+1, r.Version())
	}
	fmt.Fprintf(s.out(), "  %d) custom\n", len(recent)+1)
	fmt.Fprintf(s.out(), "Select release [1]: ")

	reader := bufio.NewReader(s.in())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrap(err, "read selection")
	}
	choice := strings.TrimSpace(line)
	if choice == "" {
		return recent[0].Version(), nil
	}

	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(recent)+1 {
		return "", errors.Errorf("invalid selection %q", choice)
	}
	if n <= len(recent) {
		return recent[n-1].Version(), nil
	}

	fmt.Fprintf(s.out(), "Version tag: ")
	custom, err := reader.ReadString('\n')
	if err != nil && custom == "" {
		return "", errors.Wrap(err, "read custom version")
	}
	custom = strings.TrimSpace(custom)
	if custom == "" {
		return "", errors.New("empty custom version")
	}
	return custom, nil
}

// rewriteManifest reads the deployed manifest, substitutes the image tag,
// and writes it back. The substitution touches only the image line.
func (s *Sequencer) rewriteManifest(ctx context.Context, id int, version string) error {
	manifest, err := s.Client.Exec(ctx, id, "cat "+render.ManifestPath)
	if err != nil {
		return errors.Wrap(err, "read deployed manifest")
	}

	updated, err := RewriteImageTag(manifest, version)
	if err != nil {
		return err
	}

	quoted := "'" + strings.ReplaceAll(updated, "'", `'\''`) + "'"
	if _, err := s.Client.Exec(ctx, id, fmt.Sprintf("printf '%%s' %s > %s", quoted, render.ManifestPath)); err != nil {
		return errors.Wrap(err, "write updated manifest")
	}
	return nil
}
