// Package hwprobe classifies the host's video-acceleration and inference
// hardware by running read-only system queries. Probing never fails:
// absence of a feature is a valid classification.
package hwprobe

import (
	"context"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"

	"fennmark/watchpost/internal/deploy"
	"fennmark/watchpost/internal/logging"
)

// USB vendor:product IDs the Coral edge TPU enumerates as. The unflashed
// device reports the Global Unichip ID until the runtime loads firmware.
var coralUSBIDs = []string{"1a6e:089a", "18d1:9302"}

// Runner executes a host command and returns its combined output. Probing
// only ever runs read-only queries through it.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// Prober detects the host hardware profile. The zero value probes the
// live host; tests override the query hooks.
type Prober struct {
	Logger *slog.Logger

	// Runner executes lspci/lsusb. Defaults to the real commands.
	Runner Runner
	// RenderGlob matches DRM render nodes. Defaults to /dev/dri/renderD*.
	RenderGlob string
	// LookPath resolves tool presence. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// CPUInfo returns the host CPU description. Defaults to gopsutil.
	CPUInfo func(ctx context.Context) (string, error)
}

func (p *Prober) logger() *slog.Logger {
	return logging.Ensure(p.Logger)
}

func (p *Prober) runner() Runner {
	if p.Runner != nil {
		return p.Runner
	}
	return execRunner{}
}

func (p *Prober) renderGlob() string {
	if p.RenderGlob != "" {
		return p.RenderGlob
	}
	return "/dev/dri/renderD*"
}

func (p *Prober) lookPath(name string) (string, error) {
	if p.LookPath != nil {
		return p.LookPath(name)
	}
	return exec.LookPath(name)
}

func (p *Prober) cpuModel(ctx context.Context) string {
	if p.CPUInfo != nil {
		model, err := p.CPUInfo(ctx)
		if err != nil {
			return "unknown"
		}
		return model
	}
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil || len(infos) == 0 {
		return "unknown"
	}
	return strings.TrimSpace(infos[0].ModelName)
}

// Probe classifies the host. Query failures degrade to the "none"
// classification for the affected feature rather than failing the probe.
func (p *Prober) Probe(ctx context.Context) deploy.HardwareProfile {
	profile := deploy.HardwareProfile{
		CPUModel:    p.cpuModel(ctx),
		Accelerator: p.probeAccelerator(ctx),
		Coral:       p.probeCoral(ctx),
	}
	p.logger().Info("hardware probe complete",
		"cpu", profile.CPUModel,
		"accelerator", profile.Accelerator,
		"coral", profile.Coral,
	)
	return profile
}

// probeAccelerator prefers a present render node classified by PCI vendor
// string; a reachable nvidia-smi counts even without a render node since
// the proprietary driver exposes no VAAPI device.
func (p *Prober) probeAccelerator(ctx context.Context) deploy.AcceleratorClass {
	nodes, err := filepath.Glob(p.renderGlob())
	if err == nil && len(nodes) > 0 {
		if class, ok := p.classifyGPU(ctx); ok {
			return class
		}
	}
	if _, err := p.lookPath("nvidia-smi"); err == nil {
		return deploy.AccelNVIDIA
	}
	return deploy.AccelNone
}

func (p *Prober) classifyGPU(ctx context.Context) (deploy.AcceleratorClass, bool) {
	out, err := p.runner().Output(ctx, "lspci", "-nn")
	if err != nil {
		p.logger().Debug("lspci query failed", "error", err)
		return deploy.AccelNone, false
	}
	for _, line := range strings.Split(out, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga") && !strings.Contains(lower, "display") && !strings.Contains(lower, "3d controller") {
			continue
		}
		switch {
		case strings.Contains(lower, "nvidia"):
			return deploy.AccelNVIDIA, true
		case strings.Contains(lower, "intel"):
			return deploy.AccelIntelVAAPI, true
		case strings.Contains(lower, "amd"), strings.Contains(lower, "ati"):
			return deploy.AccelAMDVAAPI, true
		}
	}
	return deploy.AccelNone, false
}

// probeCoral gives the USB match priority over PCIe; first match wins.
func (p *Prober) probeCoral(ctx context.Context) deploy.CoralClass {
	if out, err := p.runner().Output(ctx, "lsusb"); err == nil {
		for _, id := range coralUSBIDs {
			if strings.Contains(out, id) {
				return deploy.CoralUSB
			}
		}
	}
	if out, err := p.runner().Output(ctx, "lspci", "-nn"); err == nil {
		lower := strings.ToLower(out)
		if strings.Contains(lower, "coral") || strings.Contains(lower, "global unichip") || strings.Contains(lower, "089a") {
			return deploy.CoralPCIe
		}
	}
	return deploy.CoralNone
}
