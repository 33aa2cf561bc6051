package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dermesser/zmp/supervisor"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type upCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	timeout        time.Duration
}

func newUpCommandeer(rootCommandeer *RootCommandeer) *upCommandeer {
	commandeer := &upCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run every configured node as a child process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			if len(rootCommandeer.config.Nodes) == 0 {
				return errors.New("No nodes configured")
			}

			return commandeer.run()
		},
	}

	cmd.Flags().DurationVarP(&commandeer.timeout, "timeout", "t", 10*time.Second, "How long to wait for each node to start and to stop")

	commandeer.cmd = cmd

	return commandeer
}

func (uc *upCommandeer) run() error {
	rootCommandeer := uc.rootCommandeer
	loggerInstance := rootCommandeer.loggerInstance

	executable, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "Failed to locate zmp executable")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var processes []*supervisor.Process
	defer func() {
		for i := len(processes) - 1; i >= 0; i-- {
			code, exited := processes[i].Shutdown(true, uc.timeout)
			if !exited {
				loggerInstance.WarnWith("Killing node", "name", processes[i].Name())
				processes[i].Terminate()
				continue
			}
			loggerInstance.InfoWith("Node stopped", "name", processes[i].Name(), "code", code)
		}
	}()

	for _, nodeConfig := range rootCommandeer.config.Nodes {
		args := []string{"node", nodeConfig.Name}
		if rootCommandeer.configPath != "" {
			args = append(args, "--config", rootCommandeer.configPath)
		}
		if rootCommandeer.verbose {
			args = append(args, "--verbose")
		}

		process := supervisor.NewProcess(loggerInstance, nodeConfig.Name, executable, args...)
		if err := process.Start(uc.timeout); err != nil {
			return errors.Wrapf(err, "Failed to start node %s", nodeConfig.Name)
		}
		processes = append(processes, process)

		loggerInstance.InfoWith("Node started", "name", nodeConfig.Name, "pid", process.Pid())
	}

	sig := <-signals
	loggerInstance.InfoWith("Received signal, stopping nodes", "signal", sig.String())
	return nil
}
