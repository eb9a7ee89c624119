package collect

import (
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

// hostBridges enumerates the host's bridge interfaces, Proxmox bridges
// (vmbr*) first.
func hostBridges() []string {
	links, err := netlink.LinkList()
	if err != nil {
		return nil
	}
	var names []string
	for _, link := range links {
		if link.Type() == "bridge" {
			names = append(names, link.Attrs().Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		iv, jv := strings.HasPrefix(names[i], "vmbr"), strings.HasPrefix(names[j], "vmbr")
		if iv != jv {
			return iv
		}
		return names[i] < names[j]
	})
	return names
}
