// Package shell implements the interactive line-oriented command
// interpreter that becomes the foreground task once boot completes, per
// spec.md's L11 note that the shell is an external package built on top of
// the syscall-less kernel-internal VFS/blkdev/PMM APIs directly (no
// syscall gate round-trip for a kernel-resident shell). Grounded on
// original_source's kernel/shell/shell.c for the command set and REPL
// shape, dispatched through github.com/urfave/cli/v2 instead of the
// original's strcmp ladder, with github.com/dustin/go-humanize formatting
// the meminfo/lsblk byte counts.
package shell

import (
	"strings"

	"ardentos/kernel/blkdev"
	"ardentos/kernel/cpu"
	"ardentos/kernel/driver/ps2"
	"ardentos/kernel/hal"
	"ardentos/kernel/heap"
	"ardentos/kernel/kfmt"
	"ardentos/kernel/mem/pmm/allocator"
	"ardentos/kernel/vfs"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

const (
	maxLineLen = 256
	readdirBatch = 32
)

var cwd = "/"

// Run prints the banner and drives the read-eval-print loop forever. It
// never returns: a kernel shell has nowhere else to hand control back to.
func Run() {
	kfmt.Printf("\nWelcome to ardentos\n")
	kfmt.Printf("Type 'help' for available commands\n\n")

	for {
		kfmt.Printf("%s $ ", cwd)
		line, ok := readLine()
		if !ok {
			continue
		}
		execute(line)
	}
}

// readLine blocks on ps2.Getchar, echoing printable input and handling
// backspace, until Enter is pressed or the line buffer fills up. Between
// failed polls it parks the CPU with cpu.Halt via ps2's own documented
// polling convention (spec.md §5's "suspension points").
func readLine() (string, bool) {
	var buf [maxLineLen]byte
	n := 0

	for {
		c := ps2.Getchar()
		if c < 0 {
			haltFn()
			continue
		}

		switch {
		case c == '\n':
			hal.ActiveTerminal.WriteByte('\n')
			return string(buf[:n]), n > 0
		case c == '\b':
			if n > 0 {
				n--
				hal.ActiveTerminal.WriteByte('\b')
				hal.ActiveTerminal.WriteByte(' ')
				hal.ActiveTerminal.WriteByte('\b')
			}
		case n < maxLineLen:
			buf[n] = byte(c)
			n++
			hal.ActiveTerminal.WriteByte(byte(c))
		}
	}
}

var haltFn = cpu.Halt

func execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	app := &cli.App{
		Name:            "shell",
		Usage:           "ardentos interactive shell",
		Commands:        commands,
		HideHelp:        true,
		HideVersion:     true,
		CommandNotFound: func(_ *cli.Context, name string) {
			kfmt.Printf("unknown command: %s\n", name)
			kfmt.Printf("type 'help' for available commands\n")
		},
	}
	// cli.App.Run expects argv[0] as the program name.
	if err := app.Run(append([]string{"shell"}, args...)); err != nil {
		kfmt.Printf("%s\n", err.Error())
	}
}

var commands = []*cli.Command{
	{Name: "help", Usage: "list available commands", Action: cmdHelp},
	{Name: "clear", Usage: "clear the screen", Action: cmdClear},
	{Name: "meminfo", Usage: "show physical memory and heap usage", Action: cmdMeminfo},
	{Name: "sysinfo", Usage: "show system name/version", Action: cmdSysinfo},
	{Name: "echo", Usage: "echo arguments", Action: cmdEcho},
	{Name: "lsblk", Usage: "list block devices", Action: cmdLsblk},
	{Name: "mount", Usage: "mount <device> <mountpoint> <fstype>", Action: cmdMount},
	{Name: "ls", Usage: "list a directory", Action: cmdLs},
	{Name: "cat", Usage: "print a file's contents", Action: cmdCat},
	{Name: "mkdir", Usage: "create a directory", Action: cmdMkdir},
	{Name: "touch", Usage: "create an empty file", Action: cmdTouch},
	{Name: "write", Usage: "write <file> <text>: overwrite a file with text", Action: cmdWrite},
	{Name: "rm", Usage: "remove a file", Action: cmdRm},
	{Name: "rmdir", Usage: "remove an empty directory", Action: cmdRmdir},
	{Name: "cd", Usage: "change the working directory", Action: cmdCd},
	{Name: "pwd", Usage: "print the working directory", Action: cmdPwd},
}

func cmdHelp(c *cli.Context) error {
	kfmt.Printf("ardentos shell - available commands:\n")
	for _, cmd := range commands {
		kfmt.Printf("  %s%s %s\n", cmd.Name, pad(cmd.Name, 10), cmd.Usage)
	}
	return nil
}

// pad returns enough trailing spaces to left-justify name in a field of at
// least width characters. kfmt's Printf has no width-formatting verbs, so
// callers that want column alignment build the padding themselves.
func pad(name string, width int) string {
	if len(name) >= width {
		return " "
	}
	return strings.Repeat(" ", width-len(name))
}

func cmdClear(c *cli.Context) error {
	hal.ActiveTerminal.Clear()
	hal.ActiveTerminal.SetPosition(0, 0)
	return nil
}

func cmdSysinfo(c *cli.Context) error {
	kfmt.Printf("[NAME]: ardentos\n")
	kfmt.Printf("[VERSION]: 0.1.0\n")
	return nil
}

func cmdEcho(c *cli.Context) error {
	kfmt.Printf("%s\n", strings.Join(c.Args().Slice(), " "))
	return nil
}

func cmdMeminfo(c *cli.Context) error {
	total, used, free := allocator.FrameAllocator.Stats()
	kfmt.Printf("Physical memory:\n")
	kfmt.Printf("  Total: %s\n", humanize.Bytes(uint64(total)))
	kfmt.Printf("  Used:  %s\n", humanize.Bytes(uint64(used)))
	kfmt.Printf("  Free:  %s\n", humanize.Bytes(uint64(free)))

	heapUsed, heapFree := heap.Stats()
	kfmt.Printf("Heap:\n")
	kfmt.Printf("  Used: %s\n", humanize.Bytes(uint64(heapUsed)))
	kfmt.Printf("  Free: %s\n", humanize.Bytes(uint64(heapFree)))
	return nil
}

func cmdLsblk(c *cli.Context) error {
	devs := blkdev.Devices()
	if len(devs) == 0 {
		kfmt.Printf("no block devices registered\n")
		return nil
	}
	for _, d := range devs {
		size := uint64(d.SectorCount()) * uint64(d.SectorSize())
		writable := "ro"
		if d.Writable() {
			writable = "rw"
		}
		kfmt.Printf("%s%s %s  %s\n", d.Name(), pad(d.Name(), 10), humanize.Bytes(size), writable)
	}
	return nil
}

func cmdMount(c *cli.Context) error {
	if c.Args().Len() < 3 {
		kfmt.Printf("usage: mount <device> <mountpoint> <fstype>\n")
		return nil
	}
	dev, point, fstype := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2)
	if err := vfs.Mount(dev, point, fstype, 0); err != nil {
		kfmt.Printf("mount: %s\n", err.Error())
		return nil
	}
	kfmt.Printf("mounted %s on %s (type %s)\n", dev, point, fstype)
	return nil
}

// resolvePath turns a possibly-relative argument into an absolute path
// rooted at the shell's own cwd, since kernel/vfs tracks a single
// process-wide CWD rather than one per caller.
func resolvePath(arg string) string {
	if arg == "" || strings.HasPrefix(arg, "/") {
		return arg
	}
	if cwd == "/" {
		return "/" + arg
	}
	return cwd + "/" + arg
}

func cmdLs(c *cli.Context) error {
	path := cwd
	if c.Args().Len() > 0 {
		path = resolvePath(c.Args().Get(0))
	}

	fd, err := vfs.Open(path, vfs.DIRECTORY|vfs.RDONLY, 0)
	if err != nil {
		kfmt.Printf("ls: cannot access '%s': %s\n", path, err.Error())
		return nil
	}
	defer vfs.Close(fd)

	kfmt.Printf("directory listing of %s:\n", path)
	for {
		entries, err := vfs.Readdir(fd, readdirBatch)
		if err != nil || len(entries) == 0 {
			break
		}
		for _, d := range entries {
			kind := "f"
			if d.Type == vfs.DTDir {
				kind = "d"
			}
			kfmt.Printf("  [%s] %s\n", kind, d.Name)
		}
	}
	return nil
}

func cmdCat(c *cli.Context) error {
	if c.Args().Len() < 1 {
		kfmt.Printf("usage: cat <file>\n")
		return nil
	}
	path := resolvePath(c.Args().Get(0))

	fd, err := vfs.Open(path, vfs.RDONLY, 0)
	if err != nil {
		kfmt.Printf("cat: cannot open '%s': %s\n", path, err.Error())
		return nil
	}
	defer vfs.Close(fd)

	var buf [512]byte
	for {
		n, err := vfs.Read(fd, buf[:])
		if n > 0 {
			kfmt.Printf("%s", string(buf[:n]))
		}
		if err != nil || n == 0 {
			break
		}
	}
	kfmt.Printf("\n")
	return nil
}

func cmdMkdir(c *cli.Context) error {
	if c.Args().Len() < 1 {
		kfmt.Printf("usage: mkdir <dir>\n")
		return nil
	}
	if err := vfs.Mkdir(resolvePath(c.Args().Get(0)), 0755); err != nil {
		kfmt.Printf("mkdir: %s\n", err.Error())
	}
	return nil
}

func cmdTouch(c *cli.Context) error {
	if c.Args().Len() < 1 {
		kfmt.Printf("usage: touch <file>\n")
		return nil
	}
	fd, err := vfs.Open(resolvePath(c.Args().Get(0)), vfs.CREAT|vfs.WRONLY, 0644)
	if err != nil {
		kfmt.Printf("touch: %s\n", err.Error())
		return nil
	}
	vfs.Close(fd)
	return nil
}

func cmdWrite(c *cli.Context) error {
	if c.Args().Len() < 2 {
		kfmt.Printf("usage: write <file> <text>\n")
		return nil
	}
	path := resolvePath(c.Args().Get(0))
	text := strings.Join(c.Args().Slice()[1:], " ")

	fd, err := vfs.Open(path, vfs.CREAT|vfs.WRONLY|vfs.TRUNC, 0644)
	if err != nil {
		kfmt.Printf("write: %s\n", err.Error())
		return nil
	}
	defer vfs.Close(fd)
	if _, err := vfs.Write(fd, []byte(text)); err != nil {
		kfmt.Printf("write: %s\n", err.Error())
	}
	return nil
}

func cmdRm(c *cli.Context) error {
	if c.Args().Len() < 1 {
		kfmt.Printf("usage: rm <file>\n")
		return nil
	}
	if err := vfs.Unlink(resolvePath(c.Args().Get(0))); err != nil {
		kfmt.Printf("rm: %s\n", err.Error())
	}
	return nil
}

func cmdRmdir(c *cli.Context) error {
	if c.Args().Len() < 1 {
		kfmt.Printf("usage: rmdir <dir>\n")
		return nil
	}
	if err := vfs.Rmdir(resolvePath(c.Args().Get(0))); err != nil {
		kfmt.Printf("rmdir: %s\n", err.Error())
	}
	return nil
}

func cmdCd(c *cli.Context) error {
	target := "/"
	if c.Args().Len() > 0 {
		target = resolvePath(c.Args().Get(0))
	}

	n, err := vfs.Resolve(target)
	if err != nil {
		kfmt.Printf("cd: %s: %s\n", target, err.Error())
		return nil
	}
	defer vfs.Release(n)
	if !n.Mode.IsDir() {
		kfmt.Printf("cd: %s: not a directory\n", target)
		return nil
	}
	cwd = cleanPath(target)
	return nil
}

func cmdPwd(c *cli.Context) error {
	kfmt.Printf("%s\n", cwd)
	return nil
}

// cleanPath collapses "." and ".." components and repeated slashes,
// matching original_source's get_cwd_string normalization.
func cleanPath(path string) string {
	var stack []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}
