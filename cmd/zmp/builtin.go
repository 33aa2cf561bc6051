package main

import (
	"github.com/dermesser/zmp/client"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

func newPingCommandeer(rootCommandeer *RootCommandeer) *addressCommandeer {
	return newAddressCommandeer(rootCommandeer, "ping", "Print the name of the node listening on address",
		func(address string, options []client.Option) (interface{}, error) {
			return client.Ping(address, options...)
		})
}

func newIndexCommandeer(rootCommandeer *RootCommandeer) *addressCommandeer {
	return newAddressCommandeer(rootCommandeer, "index", "List the services of the node listening on address",
		func(address string, options []client.Option) (interface{}, error) {
			return client.Index(address, options...)
		})
}

// addressCommandeer calls a builtin service of one node, bypassing the registry
type addressCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
}

func newAddressCommandeer(rootCommandeer *RootCommandeer,
	name string,
	short string,
	call func(address string, options []client.Option) (interface{}, error)) *addressCommandeer {

	commandeer := &addressCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   name + " address",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			options, err := rootCommandeer.clientOptions()
			if err != nil {
				return err
			}

			result, err := call(args[0], options)
			if err != nil {
				return errors.Wrapf(err, "Failed to %s %s", name, args[0])
			}
			return printYAML(cmd.OutOrStdout(), result)
		},
	}

	commandeer.cmd = cmd

	return commandeer
}
