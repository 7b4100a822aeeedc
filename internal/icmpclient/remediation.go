package icmpclient

import "fmt"

// RemediationText builds the user-facing message printed when a
// *PermissionError reaches cmd/mping: names the binary, suggests elevated
// execution or CAP_NET_RAW, and notes the ping_group_range alternative for
// IPv4 (spec.md §6).
func RemediationText(binary string, family Family) string {
	msg := fmt.Sprintf(
		"%s: opening a raw %s socket was denied.\n"+
			"Run %s with elevated privileges (sudo), or grant it the raw-socket\n"+
			"capability directly: sudo setcap cap_net_raw+ep %s",
		binary, family, binary, binary,
	)
	if family == FamilyV4 {
		msg += "\nAlternatively, for IPv4 only, add your user's group to\n" +
			"/proc/sys/net/ipv4/ping_group_range so unprivileged ICMP sockets are allowed."
	}
	if ok, err := hasNetRawCapability(); err == nil && ok {
		msg += "\n(note: CAP_NET_RAW is already present in the effective set; the failure may be unrelated to privileges)"
	}
	return msg
}
