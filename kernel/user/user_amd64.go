package user

// enterUsermode performs the actual ring-0-to-ring-3 transition: it builds
// an IRETQ frame from entry/stack/codeSeg/dataSeg (codeSeg and dataSeg
// already carry RPL=3) and executes IRETQ. Matches
// original_source/include/thuban/usermode.h's asm-only enter_usermode;
// never returns when the transition succeeds.
func enterUsermode(entry, stack, codeSeg, dataSeg uint64)
