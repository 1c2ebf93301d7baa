// Package kmain wires up every kernel subsystem in dependency order and
// hands off to the shell, per spec.md §2's boot control-flow description:
// "Entry initialises L2-L10 in the order above, mounts FAT32 on the primary
// disk at /, creates a standard directory tree, and transfers control to
// the shell."
package kmain

import (
	"ardentos/kernel"
	"ardentos/kernel/cpu"
	"ardentos/kernel/gdt"
	_ "ardentos/kernel/goruntime"
	"ardentos/kernel/hal"
	"ardentos/kernel/hal/multiboot"
	"ardentos/kernel/heap"
	"ardentos/kernel/kfmt"
	"ardentos/kernel/kfmt/early"
	"ardentos/kernel/mem/pmm/allocator"
	"ardentos/kernel/mem/vmm"
	"ardentos/kernel/pic"
	"ardentos/kernel/trap"

	"ardentos/kernel/driver/ata"
	"ardentos/kernel/driver/ps2"
	"ardentos/kernel/fs/fat32"
	"ardentos/kernel/shell"
	"ardentos/kernel/syscall"
	"ardentos/kernel/vfs"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// primaryDiskName is the blkdev name the primary-bus ATA disk is
	// registered under, and the device mount passes to vfs.Mount.
	primaryDiskName = "ata0"

	// standardDirs is the directory tree created on the root filesystem
	// immediately after mounting, per spec.md §2.
	standardDirs = []string{"/bin", "/etc", "/home", "/tmp", "/dev", "/mnt"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up a
// throwaway flat GDT and setting up a a minimal g0 struct that allows Go code
// using the 4K stack allocated by the assembly code. kernel/gdt.Init below
// replaces that throwaway table with the real kernel/user/TSS descriptors.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	hal.InitTerminal()
	hal.ActiveTerminal.Clear()

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(); err != nil {
		panic(err)
	}

	// The Go allocator is usable from this point on (goruntime's package
	// init hooked sysReserve/sysMap/sysAlloc into vmm/allocator above);
	// heap.Init carves out the static arena the runtime allocator grows.
	heap.Init()
	kfmt.SetOutputSink(hal.ActiveTerminal)

	gdt.Init(cpu.BootStackTop())
	trap.Init()
	pic.Init()

	if perr := ata.Probe(primaryDiskName); perr != nil {
		early.Printf("[kmain] no primary disk: %s\n", perr.Error())
	}
	ps2.Init()

	if ferr := fat32.Register(); ferr != nil {
		panic(&kernel.Error{Module: "kmain", Message: ferr.Error()})
	}
	if merr := vfs.Mount(primaryDiskName, "/", "fat32", 0); merr != nil {
		early.Printf("[kmain] mount failed: %s\n", merr.Error())
	} else {
		for _, dir := range standardDirs {
			if merr := vfs.Mkdir(dir, 0755); merr != nil {
				early.Printf("[kmain] mkdir %s: %s\n", dir, merr.Error())
			}
		}
	}

	syscall.Init()

	shell.Run()

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}
