// Package machineid derives a stable hardware fingerprint (L2) and
// reads/writes the machine-binding record that witnesses which host was
// authorized to open a volume (spec §4.3, §6).
package machineid

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
)

// machineIDPaths are tried in order on Linux; the first one that exists
// and is non-empty is used as the machine UUID input. Mirrors what the
// handful of well-known Go "machineid" libraries do, but is hand-rolled
// here since none of those libraries appear anywhere in the retrieved
// reference pack (see DESIGN.md).
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Fingerprint collects the stable host identifiers spec §4.3/§9 pins -
// machine UUID, primary MAC, a CPU identifier, and OS name - canonicalizes
// each to lowercase UTF-8, newline-joins them, and SHA-256 hashes the
// result. It never touches the network and never writes the inputs to
// disk in the clear (only this hash may be used downstream).
func Fingerprint() ([]byte, error) {
	parts := []string{
		canonical(machineUUID()),
		canonical(primaryMAC()),
		canonical(cpuIdentifier()),
		canonical(runtime.GOOS),
	}
	joined := strings.Join(parts, "\n")
	sum := sha256.Sum256([]byte(joined))
	return sum[:], nil
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func machineUUID() string {
	for _, path := range machineIDPaths {
		b, err := os.ReadFile(path)
		if err == nil && len(bytes.TrimSpace(b)) > 0 {
			return string(bytes.TrimSpace(b))
		}
	}
	return "unknown-machine-id"
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "unknown-mac"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return "unknown-mac"
}

func cpuIdentifier() string {
	if runtime.GOOS == "linux" {
		if f, err := os.Open("/proc/cpuinfo"); err == nil {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "model name") {
					if idx := strings.Index(line, ":"); idx >= 0 {
						return strings.TrimSpace(line[idx+1:])
					}
				}
			}
		}
	}
	return fmt.Sprintf("cpus-%d", runtime.NumCPU())
}
