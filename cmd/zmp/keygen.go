package main

import (
	"fmt"

	"github.com/dermesser/zmp/securitymanager"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type keygenCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	publicFile     string
	privateFile    string
}

func newKeygenCommandeer(rootCommandeer *RootCommandeer) *keygenCommandeer {
	commandeer := &keygenCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a CURVE key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := securitymanager.NewClientSecurityManager()
			if err != nil {
				return err
			}

			if err := keys.WriteKeys(commandeer.publicFile, commandeer.privateFile); err != nil {
				return errors.Wrap(err, "Failed to write keys")
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), keys.PublicKey())
			return err
		},
	}

	cmd.Flags().StringVar(&commandeer.publicFile, "public", "publickey.txt", "File to write the public key to")
	cmd.Flags().StringVar(&commandeer.privateFile, "private", "privatekey.txt", "File to write the private key to")

	commandeer.cmd = cmd

	return commandeer
}
