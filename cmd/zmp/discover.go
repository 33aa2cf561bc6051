package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dermesser/zmp/registry"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"
)

type discoverCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	watch          bool
	interval       time.Duration
}

func newDiscoverCommandeer(rootCommandeer *RootCommandeer) *discoverCommandeer {
	commandeer := &discoverCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "discover [pattern]",
		Short: "List the providers of services matching a pattern",
		Long: `List the providers of services whose name starts with a match of pattern
(all services when omitted), as YAML.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}

			reg, err := rootCommandeer.openRegistry()
			if err != nil {
				return err
			}
			defer reg.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !commandeer.watch {
				return commandeer.printOnce(ctx, reg, pattern, cmd.OutOrStdout())
			}
			return commandeer.printChanges(ctx, reg, pattern, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&commandeer.watch, "watch", "w", false, "Print the providers again whenever they change")
	cmd.Flags().DurationVar(&commandeer.interval, "interval", time.Second, "Poll interval when the registry cannot be watched")

	commandeer.cmd = cmd

	return commandeer
}

func (dc *discoverCommandeer) printOnce(ctx context.Context, reg registry.Registry, pattern string, out io.Writer) error {
	services, err := reg.Lookup(ctx, pattern)
	if err != nil {
		return errors.Wrap(err, "Failed to look up services")
	}
	return printYAML(out, services)
}

// printChanges follows the registry until interrupted
func (dc *discoverCommandeer) printChanges(ctx context.Context, reg registry.Registry, pattern string, out io.Writer) error {
	if watcher, ok := reg.(registry.Watcher); ok {
		changes, err := watcher.Watch(ctx, pattern)
		if err != nil {
			return errors.Wrap(err, "Failed to watch services")
		}

		for services := range changes {
			if err := printSnapshot(out, services); err != nil {
				return err
			}
		}
		return nil
	}

	dc.rootCommandeer.loggerInstance.DebugWith("Registry cannot be watched, polling", "interval", dc.interval.String())

	ticker := time.NewTicker(dc.interval)
	defer ticker.Stop()

	var previous string
	for {
		services, err := reg.Lookup(ctx, pattern)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "Failed to look up services")
		}

		// only print changes, the way a watch does
		if snapshot := render(services); snapshot != previous {
			previous = snapshot
			if err := printSnapshot(out, services); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printSnapshot(out io.Writer, services map[string][]registry.Provider) error {
	if _, err := io.WriteString(out, "---\n"); err != nil {
		return err
	}
	return printYAML(out, services)
}

func render(services map[string][]registry.Provider) string {
	var buffer bytes.Buffer
	if err := printYAML(&buffer, services); err != nil {
		return ""
	}
	return buffer.String()
}
