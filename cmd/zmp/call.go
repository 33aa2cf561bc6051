package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/dermesser/zmp/client"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type callCommandeer struct {
	cmd             *cobra.Command
	rootCommandeer  *RootCommandeer
	nodeID          string
	kwargs          []string
	discoverTimeout time.Duration
}

func newCallCommandeer(rootCommandeer *RootCommandeer) *callCommandeer {
	commandeer := &callCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "call service [args...]",
		Short: "Call a service and print its result",
		Long: `Call a service and print its result as YAML.

Arguments are YAML values, so 17 is an integer, "17" a string and [1, 2] a list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			positional, err := parseArgs(args[1:])
			if err != nil {
				return err
			}

			kwargs, err := parseKwargs(commandeer.kwargs)
			if err != nil {
				return err
			}

			return commandeer.call(args[0], positional, kwargs, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&commandeer.nodeID, "node", "n", "", "Call this node only")
	cmd.Flags().StringArrayVarP(&commandeer.kwargs, "kwarg", "k", nil, "Keyword argument as name=value (repeatable)")
	cmd.Flags().DurationVar(&commandeer.discoverTimeout, "discover-timeout", 5*time.Second, "How long to wait for a provider")

	commandeer.cmd = cmd

	return commandeer
}

func (cc *callCommandeer) call(service string, args []interface{}, kwargs map[string]interface{}, out io.Writer) error {
	rootCommandeer := cc.rootCommandeer

	reg, err := rootCommandeer.openRegistry()
	if err != nil {
		return err
	}
	defer reg.Close()

	options, err := rootCommandeer.clientOptions()
	if err != nil {
		return err
	}

	svc, err := client.DiscoverTimeout(reg, regexpQuote(service), cc.discoverTimeout, 1, options...)
	if err != nil {
		return errors.Wrap(err, "Failed to discover service")
	}
	if svc == nil {
		return errors.Errorf("No provider for %s after %s", service, cc.discoverTimeout)
	}
	defer svc.Close()

	reply, err := svc.Call(args, kwargs, cc.nodeID)
	if err != nil {
		return errors.Wrapf(err, "Call to %s failed", service)
	}

	value, err := reply.Value()
	if err != nil {
		return err
	}

	rootCommandeer.loggerInstance.DebugWith("Called", "service", service, "node", reply.Node())
	return printYAML(out, value)
}

// regexpQuote matches exactly name
func regexpQuote(name string) string {
	return regexp.QuoteMeta(name) + "$"
}

func parseArgs(args []string) ([]interface{}, error) {
	values := make([]interface{}, 0, len(args))

	for i, arg := range args {
		value, err := parseValue(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to parse argument %d", i+1)
		}
		values = append(values, value)
	}
	return values, nil
}

func parseKwargs(kwargs []string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(kwargs))

	for _, kwarg := range kwargs {
		name, raw, found := strings.Cut(kwarg, "=")
		if !found || name == "" {
			return nil, errors.Errorf("Keyword argument %q is not name=value", kwarg)
		}

		value, err := parseValue(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to parse keyword argument %s", name)
		}
		values[name] = value
	}
	return values, nil
}

func parseValue(raw string) (interface{}, error) {
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, err
	}
	return value, nil
}

func printYAML(out io.Writer, value interface{}) error {
	encoded, err := yaml.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "Failed to encode result")
	}

	_, err = fmt.Fprint(out, string(encoded))
	return err
}
