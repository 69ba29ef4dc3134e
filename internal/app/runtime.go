package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv disables server and worker startup when truthy.
const TestModeEnv = "GOODSFLOW_TEST_MODE"

var inTestMode = sync.OnceValue(func() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
})

// InTestMode reports whether binaries should return before touching
// Postgres, Redis or Kafka. The flag is read once per process.
func InTestMode() bool {
	return inTestMode()
}
