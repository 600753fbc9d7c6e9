package srtp

import (
	"log/slog"
	"sync"
)

// libMu guards the package-wide lifecycle state. A process may run many
// concurrent Sessions; the underlying primitive library (pion/srtp) needs no
// global init call of its own, but the package still models libsrtp's
// srtp_init/srtp_shutdown contract (spec.md §4.9 Library Lifecycle) as a
// reference count so embedding applications get the same idempotent
// init/deinit guarantee they would from the primitive C library, grounded on
// pkg/sip/certmanager.go's single one-shot init-on-construction shape but
// generalized to reference counting since multiple Sessions share one
// process-wide lifecycle rather than each owning a private one.
var (
	libMu     sync.Mutex
	libRefs   int
	libLogger *slog.Logger
)

// libAcquire increments the lifecycle reference count, performing one-time
// global setup the first time it transitions from zero.
func libAcquire(logger *slog.Logger) {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		if logger == nil {
			logger = slog.Default()
		}
		libLogger = logger
		libLogger.Info("srtp library initialized", "suites", NonNullNames())
	}
	libRefs++
}

// libRelease decrements the lifecycle reference count, tearing down global
// state once the last Session releases it. Calling it more times than
// libAcquire was called is a no-op rather than a panic, since Session.Close
// is safe to call multiple times and must never double-release.
func libRelease() {
	libMu.Lock()
	defer libMu.Unlock()
	if libRefs == 0 {
		return
	}
	libRefs--
	if libRefs == 0 {
		if libLogger != nil {
			libLogger.Info("srtp library deinitialized")
		}
		libLogger = nil
	}
}

// LibraryRefCount reports the current number of live Sessions holding a
// lifecycle reference. Intended for tests and diagnostics.
func LibraryRefCount() int {
	libMu.Lock()
	defer libMu.Unlock()
	return libRefs
}
