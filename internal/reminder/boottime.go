package reminder

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// procStatBootTime reads the kernel boot time from /proc/stat.
func procStatBootTime() (time.Time, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing btime: %w", err)
		}
		return time.Unix(secs, 0), nil
	}
	if err := sc.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}

// bootTimeFunc returns the host boot time, falling back to the agent's
// own start time where /proc is not available. The agent starts at boot,
// so the fallback errs toward treating an agent restart as a host restart.
func bootTimeFunc(agentStart time.Time) func() time.Time {
	return func() time.Time {
		if t, err := procStatBootTime(); err == nil {
			return t
		}
		return agentStart
	}
}
