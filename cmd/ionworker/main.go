// Command ionworker is the per-process SFU worker: a child spawned by a
// controller over a fixed fd pair (fd 3 the worker reads from, fd 4 it writes
// to), never invoked directly by a human. All state lives in pkg/worker; main
// only parses flags, wires a logger, and maps failures to exit codes.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/ionworker/worker/pkg/channel"
	"github.com/ionworker/worker/pkg/worker"
)

const (
	exitSuccess         = 0
	exitFatal           = 1
	exitInvalidSettings = 42
)

func main() {
	os.Exit(run())
}

func run() int {
	if os.Getenv("MEDIASOUP_VERSION") == "" {
		fmt.Fprintln(os.Stderr, "ionworker: MEDIASOUP_VERSION must be set by the parent process")
		return exitFatal
	}

	settings, err := worker.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ionworker: %s\n", err)
		if errors.Is(err, worker.ErrInvalidSettings) {
			return exitInvalidSettings
		}
		return exitFatal
	}

	logger := newLogger(settings.LogLevel)

	consumerFd := os.NewFile(3, "consumerFd")
	producerFd := os.NewFile(4, "producerFd")
	if consumerFd == nil || producerFd == nil {
		fmt.Fprintln(os.Stderr, "ionworker: fd 3/4 control channel not open")
		return exitFatal
	}

	ch := channel.New(logger, consumerFd, producerFd, channel.BinaryCodec{})

	w, err := worker.New(settings, logger, ch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ionworker: %s\n", err)
		return exitFatal
	}
	defer w.Close()

	ch.OnClose(func() {
		logger.V(0).Info("control channel closed by controller, shutting down")
	})

	if err := w.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ionworker: %s\n", err)
		return exitFatal
	}
	return exitSuccess
}

// newLogger builds a logr.Logger backed by stdr, with verbosity set from the
// worker's own --logLevel flag rather than stdr's usual environment variable.
func newLogger(level worker.LogLevel) logr.Logger {
	std := log.New(os.Stderr, "ionworker: ", log.LstdFlags|log.Lmicroseconds)
	stdr.SetVerbosity(verbosityFor(level))
	return stdr.New(std)
}

func verbosityFor(level worker.LogLevel) int {
	switch level {
	case worker.LogLevelDebug:
		return 2
	case worker.LogLevelWarn:
		return 1
	case worker.LogLevelError:
		return 0
	case worker.LogLevelNone:
		return -1
	default:
		return 0
	}
}
