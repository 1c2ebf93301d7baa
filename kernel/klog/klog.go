// Package klog wires up the post-boot structured-logging layer. The teacher
// kernel has no log consumer beyond kfmt/early's raw Printf; once the heap
// and a console are available ardentos's subsystems (block-device registry,
// VFS mount table, syscall gate, trap dispatch) log through a shared
// logrus.Logger instead, so a hosted build can redirect diagnostics to a
// serial port or file sink without touching call sites.
package klog

import (
	"ardentos/kernel/kfmt"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide structured logger. Its output defaults to the
// kfmt ring buffer/console sink until Attach points it at a console writer.
var Log = logrus.New()

func init() {
	Log.SetFormatter(&logrus.TextFormatter{
		DisableColors:  true,
		FullTimestamp:  false,
		DisableQuote:   true,
		DisableSorting: true,
	})
	Log.SetOutput(sinkWriter{})
}

// sinkWriter adapts kfmt's output sink (console, ring buffer, whatever is
// currently installed via kfmt.SetOutputSink) into an io.Writer logrus can
// write formatted lines to.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// Attach points subsequent log output directly at w (typically the active
// VGA/TTY console), in addition to whatever kfmt.SetOutputSink already
// buffered. Call once the console is initialized.
func Attach(w interface{ Write([]byte) (int, error) }) {
	Log.SetOutput(w)
}
