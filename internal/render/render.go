// Package render turns validated deployment settings and a hardware
// profile into the two deployment artifacts: the compose manifest and the
// NVR application config. Rendering is pure; it performs no I/O and has
// no failure mode of its own.
package render

import (
	"fennmark/watchpost/internal/deploy"
)

// ImageRepository is the container image the manifest deploys.
const ImageRepository = "ghcr.io/blakeblackshear/frigate"

// Paths used inside the container. The provisioning sequencer creates
// them before the manifest is written.
const (
	AppDir        = "/opt/nvr"
	ConfigDir     = AppDir + "/config"
	StorageDir    = AppDir + "/storage"
	MediaDir      = AppDir + "/media"
	ManifestPath  = AppDir + "/docker-compose.yml"
	AppConfigPath = ConfigDir + "/config.yml"
)

// Render produces the deployment artifacts. Calling it twice with the
// same inputs yields byte-identical output.
func Render(settings deploy.DeploymentSettings, profile deploy.HardwareProfile) deploy.RenderedArtifacts {
	return deploy.RenderedArtifacts{
		Manifest:  renderManifest(settings, profile),
		AppConfig: renderAppConfig(settings, profile),
	}
}
