//go:build linux || darwin || freebsd

package main

import (
	"time"

	"golang.org/x/sys/unix"
)

// cpuTimeSelf returns the user+system CPU time consumed by this process.
func cpuTimeSelf() time.Duration {
	return rusageCPUTime(unix.RUSAGE_SELF)
}

// cpuTimeChildren returns the user+system CPU time consumed by reaped child
// processes, which is where the benchmark script runs spend theirs.
func cpuTimeChildren() time.Duration {
	return rusageCPUTime(unix.RUSAGE_CHILDREN)
}

func rusageCPUTime(who int) time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(who, &ru); err != nil {
		return 0
	}
	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	return user + sys
}
