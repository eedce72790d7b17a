// Package testutil starts shared throwaway containers for integration tests.
//
// Each backend is started at most once per test binary. Tests that need a
// container should skip themselves under -short. Containers outlive the
// individual test and are reaped by testcontainers when the binary exits.
package testutil

import (
	"testing"
)

// requireStarted fails the calling test if the shared container could not
// be started.
func requireStarted(t *testing.T, name string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("start %s container: %v", name, err)
	}
}
