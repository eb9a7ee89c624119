package deploy

import (
	"errors"
	"testing"
)

func validSettings() DeploymentSettings {
	return DeploymentSettings{
		ContainerID: 120,
		Hostname:    "nvr",
		Cores:       2,
		MemoryMB:    4096,
		DiskGB:      20,
		Network: NetworkConfig{
			Mode:   NetworkDHCP,
			Bridge: "vmbr0",
		},
		WebPort:      5000,
		ImageTag:     "0.14.1",
		RootPassword: "hunter2",
	}
}

func TestAcceleratorClassPresent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		class AcceleratorClass
		want  bool
	}{
		{AcceleratorClass(""), false},
		{AccelNone, false},
		{AccelIntelVAAPI, true},
		{AccelAMDVAAPI, true},
		{AccelNVIDIA, true},
	}
	for _, tc := range cases {
		if got := tc.class.Present(); got != tc.want {
			t.Fatalf("Present(%q) = %t, want %t", tc.class, got, tc.want)
		}
	}
}

func TestValidateAcceptsMinimalSettings(t *testing.T) {
	t.Parallel()

	s := validSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateRejectsOutOfRangeFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*DeploymentSettings)
	}{
		{"id too low", func(s *DeploymentSettings) { s.ContainerID = 99 }},
		{"id too high", func(s *DeploymentSettings) { s.ContainerID = 1000 }},
		{"empty hostname", func(s *DeploymentSettings) { s.Hostname = " " }},
		{"zero cores", func(s *DeploymentSettings) { s.Cores = 0 }},
		{"zero memory", func(s *DeploymentSettings) { s.MemoryMB = 0 }},
		{"zero disk", func(s *DeploymentSettings) { s.DiskGB = 0 }},
		{"port too high", func(s *DeploymentSettings) { s.WebPort = 70000 }},
		{"empty image tag", func(s *DeploymentSettings) { s.ImageTag = "" }},
		{"empty root password", func(s *DeploymentSettings) { s.RootPassword = "" }},
		{"empty bridge", func(s *DeploymentSettings) { s.Network.Bridge = "" }},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := validSettings()
			tc.mutate(&s)

			err := s.Validate()
			if err == nil {
				t.Fatalf("Validate() accepted invalid settings")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %T, want *ValidationError", err)
			}
		})
	}
}

func TestValidateStaticNetworkFields(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Network.Mode = NetworkStatic
	if err := s.Validate(); err == nil {
		t.Fatalf("Validate() accepted static mode without address")
	}

	s.Network.Address = "192.168.1.50/24"
	s.Network.Gateway = "192.168.1.1"
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	s.Network.Gateway = "not-an-ip"
	if err := s.Validate(); err == nil {
		t.Fatalf("Validate() accepted malformed gateway")
	}
}

func TestValidateSambaWithoutSSHRequiresCredential(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Samba.Enabled = true
	if err := s.Validate(); err == nil {
		t.Fatalf("Validate() accepted samba without any credential")
	}

	s.Samba.Password = "sharepw"
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateSambaWithSSHNeedsNoOwnCredential(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Samba.Enabled = true
	s.SSH = SSHConfig{Enabled: true, Username: "viewer", Password: "sshpw"}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestSambaCredentialPrefersSSH(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.SSH = SSHConfig{Enabled: true, Username: "viewer", Password: "sshpw"}
	s.Samba = SambaConfig{Enabled: true, Password: "sharepw"}

	got, err := s.SambaCredential()
	if err != nil {
		t.Fatalf("SambaCredential() error = %v", err)
	}
	if got != "sshpw" {
		t.Fatalf("SambaCredential() = %q, want %q", got, "sshpw")
	}
	if user := s.SambaUser(); user != "viewer" {
		t.Fatalf("SambaUser() = %q, want %q", user, "viewer")
	}
}

func TestSambaCredentialFallsBackToShare(t *testing.T) {
	t.Parallel()

	s := validSettings()
	s.Samba = SambaConfig{Enabled: true, Password: "sharepw"}

	got, err := s.SambaCredential()
	if err != nil {
		t.Fatalf("SambaCredential() error = %v", err)
	}
	if got != "sharepw" {
		t.Fatalf("SambaCredential() = %q, want %q", got, "sharepw")
	}
	if user := s.SambaUser(); user != "root" {
		t.Fatalf("SambaUser() = %q, want %q", user, "root")
	}
}

func TestSambaCredentialFailsWithoutAny(t *testing.T) {
	t.Parallel()

	s := validSettings()
	if _, err := s.SambaCredential(); err == nil {
		t.Fatalf("SambaCredential() succeeded with no credential available")
	}
}
