// Package user implements the single ring-3 trampoline spec.md §1 keeps in
// scope ("Non-goals: ...user-mode process management beyond a single
// ring-3 trampoline"): allocate a user stack, point the TSS at a kernel
// stack to return through, and perform one one-way transition from ring 0
// to ring 3. Grounded on
// original_source/kernel/user/usermode.c (create_user_stack,
// jump_to_usermode) and original_source/include/thuban/usermode.h
// (enter_usermode's asm-only signature). There is no process model above
// this: once in ring 3 the only way back into the kernel is a fault or a
// SYSCALL, handled by kernel/trap and kernel/syscall exactly as for any
// other ring-3 code.
package user

import (
	"ardentos/kernel"
	"ardentos/kernel/gdt"
	"ardentos/kernel/heap"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/mem"
)

var (
	// setKernelStackFn/enterUsermodeFn are test seams; automatically
	// inlined by the compiler in non-test builds. enterUsermode is
	// asm-backed (IRETQ off a manufactured ring-3 frame) and never
	// returns on real hardware.
	setKernelStackFn = gdt.SetKernelStack
	enterUsermodeFn  = enterUsermode
)

// errAllocStack is returned when the heap cannot satisfy the user stack
// allocation, mirroring create_user_stack's NULL-on-failure contract.
var errAllocStack = &kernel.Error{Module: "user", Message: "failed to allocate user stack"}

// CreateUserStack allocates and zeroes a size-byte stack for ring-3 use and
// returns a pointer to its top, since x86-64 stacks grow downward. Mirrors
// original_source's create_user_stack exactly, including the zero-fill
// "for safety" (an uninitialized stack could otherwise leak kernel heap
// contents to ring-3 code).
func CreateUserStack(size mem.Size) (uintptr, *kernel.Error) {
	base, err := heap.Alloc(size)
	if err != nil {
		return 0, errAllocStack
	}
	mem.Memset(base, 0, size)
	return base + uintptr(size), nil
}

// JumpToUsermode sets the TSS kernel stack the CPU will reload on the next
// interrupt/exception/SYSCALL taken from ring 3, then performs the one-way
// transition to entryPoint running on userStack at
// gdt.UserCodeSelector|3 / gdt.UserDataSelector|3. It does not return on
// real hardware; the enterUsermodeFn seam lets tests exercise the setup
// sequence without an actual ring transition.
func JumpToUsermode(entryPoint, userStack uintptr, kernelStack uintptr) {
	early.Printf("[user] transitioning to ring 3\n")
	early.Printf("[user]   entry point: 0x%x\n", entryPoint)
	early.Printf("[user]   user stack:  0x%x\n", userStack)

	setKernelStackFn(kernelStack)

	early.Printf("[user] kernel stack set to 0x%x\n", kernelStack)
	early.Printf("[user] jumping to ring 3...\n")

	enterUsermodeFn(
		uint64(entryPoint),
		uint64(userStack),
		uint64(gdt.UserCodeSelector)|3,
		uint64(gdt.UserDataSelector)|3,
	)

	// enterUsermodeFn is noreturn on real hardware (IRETQ never comes
	// back this way); reaching here means the ring transition itself
	// failed, which original_source's jump_to_usermode treats as fatal.
	kernel.Panic(&kernel.Error{Module: "user", Message: "returned from ring 3"})
}
