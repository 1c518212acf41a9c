package testutil

import (
	"os"
	"testing"
)

// EngineAddressEnv names the variable holding a live engine REST address.
const EngineAddressEnv = "ORCHESTRA_E2E_REST_ADDRESS"

// SkipIfShort skips timing-sensitive tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping slow test in short mode")
	}
}

// RequireEngine skips the test unless a live engine address is configured
// and returns that address.
func RequireEngine(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	address := os.Getenv(EngineAddressEnv)
	if address == "" {
		t.Skipf("skipping integration test (set %s to run)", EngineAddressEnv)
	}
	return address
}
