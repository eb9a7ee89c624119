// Package deploy holds the data model shared by the provisioning and
// update pipelines: the probed hardware profile, the collected deployment
// settings, and the artifacts rendered from them. Settings are built once
// by the collector and treated as immutable by every downstream stage.
package deploy

import (
	"fmt"
	"net"
	"strings"
)

// AcceleratorClass categorizes the video/inference acceleration hardware
// available on the host.
type AcceleratorClass string

const (
	AccelNone       AcceleratorClass = "none"
	AccelIntelVAAPI AcceleratorClass = "intel-vaapi"
	AccelAMDVAAPI   AcceleratorClass = "amd-vaapi"
	AccelNVIDIA     AcceleratorClass = "nvidia"
)

// VAAPI reports whether the class uses the shared render-node driver API.
func (a AcceleratorClass) VAAPI() bool {
	return a == AccelIntelVAAPI || a == AccelAMDVAAPI
}

// Present reports whether any acceleration hardware was classified.
// The zero value counts as absent.
func (a AcceleratorClass) Present() bool {
	return a != AccelNone && a != ""
}

// CoralClass categorizes an attached Coral edge-TPU accelerator.
type CoralClass string

const (
	CoralNone CoralClass = "none"
	CoralUSB  CoralClass = "usb"
	CoralPCIe CoralClass = "pcie"
)

// HardwareProfile is the read-only result of probing the host. Absence of
// a feature is a valid classification, not an error.
type HardwareProfile struct {
	CPUModel    string
	Accelerator AcceleratorClass
	Coral       CoralClass
}

// NetworkMode selects how the container's primary interface is addressed.
type NetworkMode string

const (
	NetworkDHCP   NetworkMode = "dhcp"
	NetworkStatic NetworkMode = "static"
)

// NetworkConfig describes the container's network attachment.
type NetworkConfig struct {
	Mode    NetworkMode
	Bridge  string
	Address string // CIDR, static mode only
	Gateway string // static mode only
	DNS     string // optional resolver override
}

// SSHConfig holds the optional SSH access settings.
type SSHConfig struct {
	Enabled  bool
	Username string
	Password string
}

// SambaConfig holds the optional media-share settings.
type SambaConfig struct {
	Enabled  bool
	Password string
}

// DeploymentSettings is the complete, validated operator input for one
// installation run. Constructed interactively, then never mutated.
type DeploymentSettings struct {
	ContainerID   int
	Hostname      string
	Cores         int
	MemoryMB      int
	DiskGB        int
	Network       NetworkConfig
	AccelEnabled  bool
	WebPort       int
	ImageTag      string
	VendorExample bool
	RootPassword  string
	SSH           SSHConfig
	Samba         SambaConfig
}

// ValidationError describes malformed operator input. The collector
// recovers from it locally by re-prompting; it never crosses a pipeline
// boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every settings invariant. The collector calls it before
// handing settings to the sequencer, so downstream stages may assume a
// nil result.
func (s *DeploymentSettings) Validate() error {
	if s.ContainerID < 100 || s.ContainerID > 999 {
		return invalid("container ID", "%d outside 100-999", s.ContainerID)
	}
	if strings.TrimSpace(s.Hostname) == "" {
		return invalid("hostname", "must not be empty")
	}
	if s.Cores < 1 {
		return invalid("cores", "must be positive")
	}
	if s.MemoryMB < 1 {
		return invalid("memory", "must be positive")
	}
	if s.DiskGB < 1 {
		return invalid("disk size", "must be positive")
	}
	if s.WebPort < 1 || s.WebPort > 65535 {
		return invalid("web port", "%d outside 1-65535", s.WebPort)
	}
	if strings.TrimSpace(s.ImageTag) == "" {
		return invalid("image tag", "must not be empty")
	}
	if strings.TrimSpace(s.RootPassword) == "" {
		return invalid("root password", "must not be empty")
	}
	if err := s.Network.validate(); err != nil {
		return err
	}
	if s.SSH.Enabled {
		if strings.TrimSpace(s.SSH.Username) == "" {
			return invalid("ssh username", "must not be empty")
		}
		if s.SSH.Password == "" {
			return invalid("ssh password", "must not be empty")
		}
	}
	// A samba share without SSH needs its own credential; with SSH enabled
	// the share reuses the SSH credential.
	if s.Samba.Enabled && !s.SSH.Enabled && s.Samba.Password == "" {
		return invalid("samba password", "required when SSH access is disabled")
	}
	return nil
}

func (n *NetworkConfig) validate() error {
	if strings.TrimSpace(n.Bridge) == "" {
		return invalid("network bridge", "must not be empty")
	}
	switch n.Mode {
	case NetworkDHCP:
	case NetworkStatic:
		if _, _, err := net.ParseCIDR(n.Address); err != nil {
			return invalid("network address", "%q is not a CIDR address", n.Address)
		}
		if net.ParseIP(n.Gateway) == nil {
			return invalid("network gateway", "%q is not an IP address", n.Gateway)
		}
	default:
		return invalid("network mode", "unknown mode %q", n.Mode)
	}
	if n.DNS != "" && net.ParseIP(n.DNS) == nil {
		return invalid("network dns", "%q is not an IP address", n.DNS)
	}
	return nil
}

// SambaCredential resolves the password used for the media share: the SSH
// credential when SSH is enabled, otherwise the dedicated share credential.
// An empty result is unreachable for validated settings.
func (s *DeploymentSettings) SambaCredential() (string, error) {
	if s.SSH.Enabled && s.SSH.Password != "" {
		return s.SSH.Password, nil
	}
	if s.Samba.Password != "" {
		return s.Samba.Password, nil
	}
	return "", fmt.Errorf("no credential available for the media share")
}

// SambaUser returns the account name the share authenticates as.
func (s *DeploymentSettings) SambaUser() string {
	if s.SSH.Enabled && s.SSH.Username != "" {
		return s.SSH.Username
	}
	return "root"
}

// RenderedArtifacts are the two text files produced for one deployment.
// Derived deterministically from (settings, profile); no identity of
// their own.
type RenderedArtifacts struct {
	Manifest  string
	AppConfig string
}

// Version aliases accepted by the update pipeline in place of a literal
// release tag.
const (
	VersionLatest = "latest"
	VersionBeta   = "beta"
)

// UpdateRequest describes one run of the update pipeline against an
// existing deployment.
type UpdateRequest struct {
	ContainerID   int
	TargetVersion string // literal tag, VersionLatest, VersionBeta, or empty for interactive
	Snapshot      bool
	SnapshotLabel string
}
