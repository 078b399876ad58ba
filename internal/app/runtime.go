package app

import (
	"os"
	"sync"
)

// TestModeEnv is set by the rolekeeper/testing package inside test binaries.
const TestModeEnv = "ROLEKEEPER_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(TestModeEnv) == "1"
})

// InTestMode reports whether the process runs under go test, in which case
// main exits before opening any connection.
func InTestMode() bool {
	return testMode()
}
