package main

import (
	"os"

	"github.com/dermesser/zmp/client"
	"github.com/dermesser/zmp/config"
	"github.com/dermesser/zmp/log"
	"github.com/dermesser/zmp/registry"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/spf13/cobra"
)

const configEnv = "ZMP_CONFIG"

type RootCommandeer struct {
	loggerInstance logger.Logger
	cmd            *cobra.Command
	configPath     string
	verbose        bool
	config         *config.Config

	// passed to os.Exit once the command returned without error
	exitCode int
}

func NewRootCommandeer() *RootCommandeer {
	commandeer := &RootCommandeer{}

	cmd := &cobra.Command{
		Use:           "zmp [command]",
		Short:         "Run and call zmp nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&commandeer.configPath, "config", "c", os.Getenv(configEnv), "Path to a TOML config file")
	cmd.PersistentFlags().BoolVarP(&commandeer.verbose, "verbose", "v", false, "Verbose output")

	cmd.AddCommand(
		newNodeCommandeer(commandeer).cmd,
		newUpCommandeer(commandeer).cmd,
		newCallCommandeer(commandeer).cmd,
		newDiscoverCommandeer(commandeer).cmd,
		newPingCommandeer(commandeer).cmd,
		newIndexCommandeer(commandeer).cmd,
		newKeygenCommandeer(commandeer).cmd,
	)

	commandeer.cmd = cmd

	return commandeer
}

// Execute uses os.Args to execute the command
func (rc *RootCommandeer) Execute() error {
	return rc.cmd.Execute()
}

func (rc *RootCommandeer) initialize() error {
	var err error

	rc.config, err = config.Load(rc.configPath)
	if err != nil {
		return errors.Wrap(err, "Failed to load config")
	}

	level := rc.config.LogLevel
	if rc.verbose {
		level = log.LevelDebug
	}

	rc.loggerInstance, err = log.New("zmp", level)
	if err != nil {
		return errors.Wrap(err, "Failed to create logger")
	}
	log.SetDefault(rc.loggerInstance)

	rc.loggerInstance.DebugWith("Initialized",
		"config", rc.configPath,
		"registry", rc.config.Registry.Backend)

	return nil
}

func (rc *RootCommandeer) openRegistry() (registry.Registry, error) {
	reg, err := rc.config.OpenRegistry(rc.loggerInstance)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open registry")
	}
	return reg, nil
}

func (rc *RootCommandeer) clientOptions() ([]client.Option, error) {
	security, err := rc.config.ClientSecurity()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to set up client security")
	}

	return []client.Option{
		client.WithLogger(rc.loggerInstance),
		client.WithSecurityManager(security),
		client.WithTimeout(rc.config.Client.Timeout),
		client.WithRetries(rc.config.Client.Retries),
	}, nil
}
