// Package vm reconciles a single VM towards its desired state.
//
// Every call starts from scratch. The current state is observed from the
// host alone: a hypervisor process carrying the VM's name means running, an
// image file without a process means stopped, and neither means absent.
// Nothing is recorded between calls, so reconciling the same spec twice
// changes nothing the second time.
//
// Transitions:
//
//	absent  -> present   create the disk image
//	absent  -> started   create the disk image, package the seed, launch
//	stopped -> started   package the seed, launch
//	running -> stopped   graceful stop
//	any     -> absent    graceful stop if running, then remove image and seed
//
// Every other pair is a no-op. After acting, the controller observes again
// and reports what it finds rather than what it expected; the hypervisor
// daemonizes, so a launch command that exits 0 only means it was accepted.
//
// Error Handling:
//
// Hard errors abort the call and no result is returned. Stopping is
// best-effort: a signal that cannot be delivered is logged as a warning and
// the final observation decides the reported state. A missing address is
// never an error.
//
// Concurrency:
//
// A Controller runs one sequential pipeline per call. Calls for different
// names are independent. Calls for the same name are not serialized and must
// not run concurrently.
package vm
