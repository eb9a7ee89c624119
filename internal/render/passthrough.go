package render

import (
	"fennmark/watchpost/internal/deploy"
)

// PassthroughLines returns the raw LXC config entries that expose host
// device nodes inside the container. Order follows the device class so
// repeated renders are identical.
func PassthroughLines(settings deploy.DeploymentSettings, profile deploy.HardwareProfile) []string {
	var lines []string

	if settings.AccelEnabled {
		switch {
		case profile.Accelerator.VAAPI():
			lines = append(lines,
				"lxc.cgroup2.devices.allow: c 226:* rwm",
				"lxc.mount.entry: /dev/dri dev/dri none bind,optional,create=dir",
			)
		case profile.Accelerator == deploy.AccelNVIDIA:
			lines = append(lines,
				"lxc.cgroup2.devices.allow: c 195:* rwm",
				"lxc.cgroup2.devices.allow: c 509:* rwm",
				"lxc.mount.entry: /dev/nvidia0 dev/nvidia0 none bind,optional,create=file",
				"lxc.mount.entry: /dev/nvidiactl dev/nvidiactl none bind,optional,create=file",
				"lxc.mount.entry: /dev/nvidia-uvm dev/nvidia-uvm none bind,optional,create=file",
			)
		}
	}

	switch profile.Coral {
	case deploy.CoralUSB:
		lines = append(lines,
			"lxc.cgroup2.devices.allow: c 189:* rwm",
			"lxc.mount.entry: /dev/bus/usb dev/bus/usb none bind,optional,create=dir",
		)
	case deploy.CoralPCIe:
		lines = append(lines,
			"lxc.cgroup2.devices.allow: c 120:* rwm",
			"lxc.mount.entry: /dev/apex_0 dev/apex_0 none bind,optional,create=file",
		)
	}

	return lines
}
