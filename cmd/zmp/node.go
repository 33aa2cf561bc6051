package main

import (
	"os"

	"github.com/dermesser/zmp/config"
	"github.com/dermesser/zmp/node"
	"github.com/dermesser/zmp/supervisor"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type nodeCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	nodeConfig     config.NodeConfig
	rpcLog         bool
}

func newNodeCommandeer(rootCommandeer *RootCommandeer) *nodeCommandeer {
	commandeer := &nodeCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "node [name]",
		Short: "Run a node providing demo services",
		Long: `Run a node providing demo services until SIGINT or SIGTERM.

A node named in the config file takes its address, services and trace setting
from there; flags given explicitly override them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			name := os.Getenv(supervisor.WorkerEnv)
			if len(args) == 1 {
				name = args[0]
			}

			nodeConfig := commandeer.nodeConfig
			if configured, found := rootCommandeer.config.Node(name); found {
				nodeConfig = configured
				if cmd.Flags().Changed("address") {
					nodeConfig.Address = commandeer.nodeConfig.Address
				}
				if cmd.Flags().Changed("services") {
					nodeConfig.Services = commandeer.nodeConfig.Services
				}
				if cmd.Flags().Changed("traces") {
					nodeConfig.Traces = commandeer.nodeConfig.Traces
				}
			}
			nodeConfig.Name = name

			n, err := commandeer.createNode(nodeConfig)
			if err != nil {
				return errors.Wrap(err, "Failed to create node")
			}

			rootCommandeer.exitCode = supervisor.RunChild(rootCommandeer.loggerInstance, n.Supervisor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&commandeer.nodeConfig.Address, "address", "a", "", "Endpoint to bind (default ipc socket named after the node)")
	cmd.Flags().StringSliceVarP(&commandeer.nodeConfig.Services, "services", "s", demoServiceNames(), "Demo services to provide")
	cmd.Flags().BoolVar(&commandeer.nodeConfig.Traces, "traces", false, "Send error stacks to callers")
	cmd.Flags().BoolVar(&commandeer.rpcLog, "rpclog", false, "Log every request and response")

	commandeer.cmd = cmd

	return commandeer
}

func (nc *nodeCommandeer) createNode(nodeConfig config.NodeConfig) (*node.Node, error) {
	rootCommandeer := nc.rootCommandeer

	reg, err := rootCommandeer.openRegistry()
	if err != nil {
		return nil, err
	}

	security, err := rootCommandeer.config.NodeSecurity()
	if err != nil {
		return nil, errors.Wrap(err, "Failed to set up node security")
	}

	n := node.New(nodeConfig.Name, nodeConfig.Address, reg,
		node.WithLogger(rootCommandeer.loggerInstance),
		node.WithSecurityManager(security),
		node.WithTraces(nodeConfig.Traces),
		node.WithRPCLog(nc.rpcLog))

	if err := provideDemoServices(n, nodeConfig.Services); err != nil {
		return nil, err
	}
	return n, nil
}

func provideDemoServices(n *node.Node, services []string) error {
	if len(services) == 0 {
		services = demoServiceNames()
	}

	for _, name := range services {
		handler, found := demoServices[name]
		if !found {
			return errors.Errorf("Unknown demo service %s, must be one of %v", name, demoServiceNames())
		}
		if err := n.Provides(name, handler); err != nil {
			return err
		}
	}
	return nil
}
