package server

import "runtime"

// heapWithinBudget reports whether live heap usage is under the configured
// ceiling. Joins are refused above it so existing sessions keep their memory
// headroom. A non-positive budget disables the check.
func heapWithinBudget(maxMB int) bool {
	if maxMB <= 0 {
		return true
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc <= uint64(maxMB)*1024*1024
}

// MemoryUsage reports live heap usage and the configured ceiling in MiB, for
// health reporting.
func (s *Server) MemoryUsage() (usedMB, limitMB int) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int(ms.HeapAlloc / (1024 * 1024)), s.cfg.MaxMemoryMB
}
