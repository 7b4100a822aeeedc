package icmpclient

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// hasNetRawCapability reports whether the current process holds
// CAP_NET_RAW in its effective capability set, read from
// /proc/self/status. Used only to produce a more specific remediation hint
// when socket construction fails (spec.md §6); New itself never calls this,
// since opening the socket is the real and sufficient test.
func hasNetRawCapability() (bool, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return false, err
	}
	defer f.Close()

	var capEffStr string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "CapEff:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				capEffStr = fields[1]
				break
			}
		}
	}
	if capEffStr == "" {
		return false, errors.New("icmpclient: CapEff not found in /proc/self/status")
	}

	val, err := strconv.ParseUint(capEffStr, 16, 64)
	if err != nil {
		return false, err
	}
	return val&(1<<uint(unix.CAP_NET_RAW)) != 0, nil
}
