// Package testing puts the process into test mode. Test packages import it
// for its side effects.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// Defaults applied when the environment does not set them, so that config
// loading succeeds in unit tests.
var testEnv = map[string]string{
	"ODYSSEY_TEST_MODE":  "1",
	"JWT_ACCESS_SECRET":  "test-access-secret",
	"JWT_REFRESH_SECRET": "test-refresh-secret",
	"LOG_FORMAT":         "json",
}

func ensureTestMode() {
	once.Do(func() {
		for key, value := range testEnv {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
