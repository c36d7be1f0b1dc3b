// Package guard switches binaries into test mode when imported by a test.
package guard

import "os"

func init() {
	if os.Getenv("RETAILPOS_TEST_MODE") == "" {
		_ = os.Setenv("RETAILPOS_TEST_MODE", "1")
	}
}
