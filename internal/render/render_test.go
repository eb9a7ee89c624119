package render

import (
	"strings"
	"testing"

	"fennmark/watchpost/internal/deploy"
)

func baseSettings() deploy.DeploymentSettings {
	return deploy.DeploymentSettings{
		ContainerID:  120,
		Hostname:     "nvr",
		Cores:        2,
		MemoryMB:     4096,
		DiskGB:       20,
		Network:      deploy.NetworkConfig{Mode: deploy.NetworkDHCP, Bridge: "vmbr0"},
		WebPort:      5000,
		ImageTag:     "0.14.1",
		RootPassword: "hunter2",
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	settings.AccelEnabled = true
	profile := deploy.HardwareProfile{Accelerator: deploy.AccelIntelVAAPI, Coral: deploy.CoralUSB}

	first := Render(settings, profile)
	second := Render(settings, profile)
	if first.Manifest != second.Manifest {
		t.Fatalf("manifest differs between renders")
	}
	if first.AppConfig != second.AppConfig {
		t.Fatalf("app config differs between renders")
	}
}

func TestManifestOmitsDevicesWhenAccelDisabled(t *testing.T) {
	t.Parallel()

	profiles := []deploy.HardwareProfile{
		{Accelerator: deploy.AccelNone},
		{Accelerator: deploy.AccelIntelVAAPI},
		{Accelerator: deploy.AccelAMDVAAPI},
		{Accelerator: deploy.AccelNVIDIA},
	}

	for _, profile := range profiles {
		artifacts := Render(baseSettings(), profile)
		if strings.Contains(artifacts.Manifest, "/dev/dri") {
			t.Fatalf("profile %q: manifest contains render device with acceleration disabled", profile.Accelerator)
		}
		if strings.Contains(artifacts.Manifest, "nvidia") {
			t.Fatalf("profile %q: manifest contains GPU reservation with acceleration disabled", profile.Accelerator)
		}
	}
}

func TestManifestDeviceBlockIsExclusive(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	settings.AccelEnabled = true

	cases := []struct {
		accel      deploy.AcceleratorClass
		wantVAAPI  bool
		wantNVIDIA bool
	}{
		{deploy.AccelNone, false, false},
		{deploy.AccelIntelVAAPI, true, false},
		{deploy.AccelAMDVAAPI, true, false},
		{deploy.AccelNVIDIA, false, true},
	}

	for _, tc := range cases {
		manifest := Render(settings, deploy.HardwareProfile{Accelerator: tc.accel}).Manifest

		hasVAAPI := strings.Contains(manifest, "/dev/dri/renderD128")
		hasNVIDIA := strings.Contains(manifest, "driver: nvidia")
		if hasVAAPI != tc.wantVAAPI {
			t.Fatalf("accel %q: VAAPI bind = %t, want %t", tc.accel, hasVAAPI, tc.wantVAAPI)
		}
		if hasNVIDIA != tc.wantNVIDIA {
			t.Fatalf("accel %q: NVIDIA reservation = %t, want %t", tc.accel, hasNVIDIA, tc.wantNVIDIA)
		}
		if hasVAAPI && hasNVIDIA {
			t.Fatalf("accel %q: manifest contains both device forms", tc.accel)
		}
	}
}

func TestManifestNVIDIAReservationShape(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	settings.AccelEnabled = true
	manifest := Render(settings, deploy.HardwareProfile{Accelerator: deploy.AccelNVIDIA}).Manifest

	for _, want := range []string{"driver: nvidia", "count: 1", "- gpu", "- video"} {
		if !strings.Contains(manifest, want) {
			t.Fatalf("manifest missing %q:\n%s", want, manifest)
		}
	}
	if strings.Contains(manifest, "/dev/dri") {
		t.Fatalf("NVIDIA manifest contains VAAPI bind mount:\n%s", manifest)
	}
}

func TestManifestCoralPCIeDevice(t *testing.T) {
	t.Parallel()

	manifest := Render(baseSettings(), deploy.HardwareProfile{Coral: deploy.CoralPCIe}).Manifest
	if !strings.Contains(manifest, "/dev/apex_0:/dev/apex_0") {
		t.Fatalf("manifest missing PCIe Coral device:\n%s", manifest)
	}

	usbManifest := Render(baseSettings(), deploy.HardwareProfile{Coral: deploy.CoralUSB}).Manifest
	if strings.Contains(usbManifest, "apex") {
		t.Fatalf("USB Coral should need no manifest device entry:\n%s", usbManifest)
	}
}

func TestDetectorPriorityCoralBeatsIntelGPU(t *testing.T) {
	t.Parallel()

	profile := deploy.HardwareProfile{Accelerator: deploy.AccelIntelVAAPI, Coral: deploy.CoralUSB}
	cfg := Render(baseSettings(), profile).AppConfig

	if !strings.Contains(cfg, "type: edgetpu") {
		t.Fatalf("expected edgetpu detector with a Coral attached:\n%s", cfg)
	}
	if strings.Contains(cfg, "openvino") {
		t.Fatalf("openvino detector selected despite Coral presence:\n%s", cfg)
	}
}

func TestDetectorIntelGPUWithoutCoral(t *testing.T) {
	t.Parallel()

	cfg := Render(baseSettings(), deploy.HardwareProfile{Accelerator: deploy.AccelIntelVAAPI}).AppConfig
	if !strings.Contains(cfg, "type: openvino") {
		t.Fatalf("expected openvino detector on Intel iGPU:\n%s", cfg)
	}
}

func TestVAAPIPresetFollowsAccelFlag(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	profile := deploy.HardwareProfile{Accelerator: deploy.AccelAMDVAAPI}

	if cfg := Render(settings, profile).AppConfig; strings.Contains(cfg, "preset-vaapi") {
		t.Fatalf("hwaccel preset emitted with acceleration disabled:\n%s", cfg)
	}

	settings.AccelEnabled = true
	if cfg := Render(settings, profile).AppConfig; !strings.Contains(cfg, "preset-vaapi") {
		t.Fatalf("hwaccel preset missing with acceleration enabled:\n%s", cfg)
	}

	// NVIDIA gets no ffmpeg stanza at all.
	nv := Render(settings, deploy.HardwareProfile{Accelerator: deploy.AccelNVIDIA}).AppConfig
	if strings.Contains(nv, "hwaccel_args") {
		t.Fatalf("NVIDIA config should carry no hwaccel stanza:\n%s", nv)
	}
}

func TestCameraExamplesStayDisabled(t *testing.T) {
	t.Parallel()

	generic := Render(baseSettings(), deploy.HardwareProfile{}).AppConfig
	if !strings.Contains(generic, "camera_example") {
		t.Fatalf("generic placeholder camera missing:\n%s", generic)
	}
	if strings.Contains(generic, "reolink") {
		t.Fatalf("vendor example present without the flag:\n%s", generic)
	}

	settings := baseSettings()
	settings.VendorExample = true
	vendor := Render(settings, deploy.HardwareProfile{}).AppConfig
	if !strings.Contains(vendor, "reolink_example") {
		t.Fatalf("vendor example camera missing:\n%s", vendor)
	}
	if !strings.Contains(vendor, "enabled: false") {
		t.Fatalf("example camera must stay disabled:\n%s", vendor)
	}
}

func TestEndToEndCPUOnlyScenario(t *testing.T) {
	t.Parallel()

	artifacts := Render(baseSettings(), deploy.HardwareProfile{Accelerator: deploy.AccelNone, Coral: deploy.CoralNone})

	if !strings.Contains(artifacts.AppConfig, "type: cpu") {
		t.Fatalf("expected CPU detector:\n%s", artifacts.AppConfig)
	}
	if strings.Contains(artifacts.Manifest, "devices:") {
		t.Fatalf("manifest should carry no device block:\n%s", artifacts.Manifest)
	}
}

func TestManifestImageAndPort(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	settings.WebPort = 8080
	manifest := Render(settings, deploy.HardwareProfile{}).Manifest

	if !strings.Contains(manifest, ImageRepository+":0.14.1") {
		t.Fatalf("manifest missing image reference:\n%s", manifest)
	}
	if !strings.Contains(manifest, "8080:5000") {
		t.Fatalf("manifest missing web port mapping:\n%s", manifest)
	}
}

func TestPassthroughLines(t *testing.T) {
	t.Parallel()

	settings := baseSettings()
	settings.AccelEnabled = true

	vaapi := PassthroughLines(settings, deploy.HardwareProfile{Accelerator: deploy.AccelIntelVAAPI})
	if len(vaapi) == 0 || !strings.Contains(strings.Join(vaapi, "\n"), "/dev/dri") {
		t.Fatalf("VAAPI passthrough lines = %v", vaapi)
	}

	none := PassthroughLines(baseSettings(), deploy.HardwareProfile{Accelerator: deploy.AccelIntelVAAPI})
	if len(none) != 0 {
		t.Fatalf("passthrough lines emitted with acceleration disabled: %v", none)
	}

	coral := PassthroughLines(baseSettings(), deploy.HardwareProfile{Coral: deploy.CoralUSB})
	if !strings.Contains(strings.Join(coral, "\n"), "/dev/bus/usb") {
		t.Fatalf("USB Coral passthrough lines = %v", coral)
	}
}
