//go:build !linux

package icmpclient

import "errors"

// hasNetRawCapability is Linux-only; CAP_NET_RAW has no equivalent on other
// platforms, so remediation text there stays generic (spec.md §6).
func hasNetRawCapability() (bool, error) {
	return false, errors.New("icmpclient: capability inspection unsupported on this platform")
}
