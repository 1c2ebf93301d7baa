package sync

var (
	// saveFlagsAndDisableInterruptsFn and restoreFlagsFn are test seams;
	// automatically inlined by the compiler in non-test builds.
	saveFlagsAndDisableInterruptsFn = saveFlagsAndDisableInterrupts
	restoreFlagsFn                  = restoreFlags
)

// saveFlagsAndDisableInterrupts captures the current RFLAGS register (via
// PUSHFQ), clears the interrupt flag (CLI) and returns the saved value.
func saveFlagsAndDisableInterrupts() uint64

// restoreFlags reloads RFLAGS from a value previously obtained via
// saveFlagsAndDisableInterrupts (via PUSHQ/POPFQ), re-enabling interrupts if
// they were enabled at the time of the matching save.
func restoreFlags(flags uint64)
