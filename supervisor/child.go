package supervisor

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dermesser/zmp/log"

	"github.com/nuclio/logger"
)

// IsChild reports whether this process was spawned by a Process.
func IsChild() bool {
	return os.Getenv(StartedFDEnv) != ""
}

/*
RunChild runs sup as the body of this process and returns the exit code to
pass to os.Exit. Once the worker has started, the parent is told through the
inherited pipe. SIGTERM and SIGINT raise the worker's exit flag.

Outside of a Process child the pipe is skipped, so the same entry point serves
a process started by hand.
*/
func RunChild(parentLogger logger.Logger, sup *Supervisor) int {
	loggerInstance := log.Or(parentLogger)

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	if err := sup.Start(0); err != nil {
		loggerInstance.ErrorWith("Worker failed to start", "name", sup.Name(), "err", err.Error())
		return ExitPanic
	}

	notifyStarted(loggerInstance)

	for {
		select {
		case sig := <-signals:
			loggerInstance.InfoWith("Received signal, shutting down", "signal", sig.String())
			sup.Shutdown(false, 0)
		case <-sup.Done():
			code, _ := sup.ExitCode()
			return code
		}
	}
}

func notifyStarted(loggerInstance logger.Logger) {
	value := os.Getenv(StartedFDEnv)
	if value == "" {
		return
	}

	fd, err := strconv.Atoi(value)
	if err != nil {
		loggerInstance.WarnWith("Invalid started pipe descriptor", "value", value)
		return
	}

	pipe := os.NewFile(uintptr(fd), "started")
	defer pipe.Close()

	if _, err := pipe.Write([]byte{'s'}); err != nil {
		loggerInstance.WarnWith("Failed to notify parent", "err", err.Error())
	}
}
