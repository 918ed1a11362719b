package iopool

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoroutineID exposes goroutineID for other kcprpc packages that need the
// same reentrancy/identity trick (e.g. a per-goroutine last-error slot).
func GoroutineID() uint64 {
	return goroutineID()
}

// goroutineID extracts the current goroutine's numeric id by parsing the
// header line of runtime.Stack. It is used only for the reentrancy checks
// in Executor.RunningHere and Pool.RunningInPool/RunningInExecutor, and,
// through GoroutineID, to key the endpoints' per-goroutine last-error
// slot; nothing about scheduling correctness depends on it.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
