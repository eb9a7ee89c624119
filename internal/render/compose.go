package render

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"fennmark/watchpost/internal/deploy"
)

// Typed model of the slice of the compose schema this tool emits.
// Marshalling structs (rather than interpolating text) keeps the output
// well-formed for any settings value.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	ContainerName string         `yaml:"container_name"`
	Image         string         `yaml:"image"`
	Restart       string         `yaml:"restart"`
	StopGrace     string         `yaml:"stop_grace_period"`
	ShmSize       string         `yaml:"shm_size"`
	Devices       []string       `yaml:"devices,omitempty"`
	Volumes       []string       `yaml:"volumes"`
	Ports         []string       `yaml:"ports"`
	Environment   []string       `yaml:"environment,omitempty"`
	Deploy        *composeDeploy `yaml:"deploy,omitempty"`
}

type composeDeploy struct {
	Resources composeResources `yaml:"resources"`
}

type composeResources struct {
	Reservations composeReservations `yaml:"reservations"`
}

type composeReservations struct {
	Devices []composeDeviceReservation `yaml:"devices"`
}

type composeDeviceReservation struct {
	Driver       string   `yaml:"driver"`
	Count        int      `yaml:"count"`
	Capabilities []string `yaml:"capabilities"`
}

const renderDevice = "/dev/dri/renderD128"

func renderManifest(settings deploy.DeploymentSettings, profile deploy.HardwareProfile) string {
	service := composeService{
		ContainerName: "nvr",
		Image:         fmt.Sprintf("%s:%s", ImageRepository, settings.ImageTag),
		Restart:       "unless-stopped",
		StopGrace:     "30s",
		ShmSize:       "256mb",
		Volumes: []string{
			"/etc/localtime:/etc/localtime:ro",
			ConfigDir + ":/config",
			StorageDir + ":/media/frigate",
		},
		Ports: []string{
			fmt.Sprintf("%d:5000", settings.WebPort),
			"8554:8554",
			"8555:8555/tcp",
			"8555:8555/udp",
		},
	}

	// Device passthrough appears only when the operator enabled
	// acceleration; the shape follows the accelerator class. NVIDIA uses a
	// resource reservation, never a render-node bind.
	if settings.AccelEnabled {
		switch {
		case profile.Accelerator.VAAPI():
			service.Devices = append(service.Devices, renderDevice+":"+renderDevice)
		case profile.Accelerator == deploy.AccelNVIDIA:
			service.Deploy = &composeDeploy{
				Resources: composeResources{
					Reservations: composeReservations{
						Devices: []composeDeviceReservation{{
							Driver:       "nvidia",
							Count:        1,
							Capabilities: []string{"gpu", "video"},
						}},
					},
				},
			}
		}
	}

	// A PCIe Coral needs its device node declared; the USB variant is
	// enumerated automatically and needs nothing here.
	if profile.Coral == deploy.CoralPCIe {
		service.Devices = append(service.Devices, "/dev/apex_0:/dev/apex_0")
	}

	out, err := yaml.Marshal(composeFile{Services: map[string]composeService{"nvr": service}})
	if err != nil {
		// Marshalling a fully-typed value cannot fail.
		panic(fmt.Sprintf("render manifest: %v", err))
	}
	return string(out)
}
