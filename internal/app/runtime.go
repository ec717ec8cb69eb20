package app

import "os"

// IsTestMode reports whether the process runs under the integration
// test harness. A few guards (TLS redirect, rate limiting) relax when set.
func IsTestMode() bool {
	return os.Getenv("FRESHGATE_TEST_MODE") == "1"
}
