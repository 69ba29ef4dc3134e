// Package guard marks the process as a test run. Import it for side effects
// from tests that construct app components.
package guard

import "os"

// Env mirrors app.TestModeEnv; importing app here would cycle with its tests.
const Env = "GOODSFLOW_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(Env); !set {
		_ = os.Setenv(Env, "1")
	}
}
