package agent

import (
	"context"
	"strings"
	"time"

	"github.com/fleetops/fleetd/internal/protocol"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
)

// collectHostInfo gathers the real host metrics fleetd expects in a
// client_info frame, using gopsutil instead of the Nix-specific status
// checks the teacher's agent ran.
func collectHostInfo(ctx context.Context, hostname string) protocol.HostInfo {
	info := protocol.HostInfo{Hostname: hostname}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemory = vm.Total
		info.UsedMemory = vm.Used
		info.FreeMemory = vm.Free
	}

	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		info.CPUModel = infos[0].ModelName
	}

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		info.CPUUsage = percents[0]
	}

	if hi, err := host.InfoWithContext(ctx); err == nil && hi.Hostname != "" {
		info.Hostname = hi.Hostname
	}

	info.IPAddresses = collectIPAddresses(ctx)

	return info
}

// collectIPAddresses returns every non-loopback IP address bound to a
// network interface, stripped of their CIDR suffix.
func collectIPAddresses(ctx context.Context) []string {
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil
	}
	var addrs []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			addr, _, _ := strings.Cut(a.Addr, "/")
			if addr == "" || addr == "127.0.0.1" || addr == "::1" {
				continue
			}
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
