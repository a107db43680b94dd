// nacosctl is a small CLI over the config client: read, publish, and
// delete configuration items, or watch one for changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	nacosconfig "github.com/vitaliisemenov/nacos-config-go"
	"github.com/vitaliisemenov/nacos-config-go/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configFile string
	servers    []string
	namespace  string
	group      string
	username   string
	password   string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}

	rootCmd := &cobra.Command{
		Use:   "nacosctl",
		Short: "Nacos configuration center client",
		Long: "Read, publish, and delete configuration items on a Nacos " +
			"server, or watch one for changes. Options come from flags, a " +
			"YAML file, or NACOS_* environment variables.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path to client options YAML")
	rootCmd.PersistentFlags().StringSliceVarP(&flags.servers, "server", "s", nil, "config server address (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&flags.namespace, "namespace", "n", "", "tenant applied to every request")
	rootCmd.PersistentFlags().StringVarP(&flags.group, "group", "g", "", "config group (default DEFAULT_GROUP)")
	rootCmd.PersistentFlags().StringVarP(&flags.username, "username", "u", "", "login username")
	rootCmd.PersistentFlags().StringVar(&flags.password, "password", "", "login password")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		getCommand(flags),
		publishCommand(flags),
		removeCommand(flags),
		watchCommand(flags),
	)
	return rootCmd
}

// newClient builds the config client from the file/env options overlaid
// with the command-line flags.
func newClient(flags *cliFlags) (*nacosconfig.Client, error) {
	opts, err := nacosconfig.LoadOptions(flags.configFile)
	if err != nil {
		return nil, err
	}

	if len(flags.servers) > 0 {
		opts.ServerAddresses = flags.servers
	}
	if flags.namespace != "" {
		opts.Namespace = flags.namespace
	}
	if flags.username != "" {
		opts.Username = flags.username
		opts.Password = flags.password
	}
	opts.Logger = logger.New(logger.Config{Level: flags.logLevel, Output: "stderr"})

	return nacosconfig.New(opts)
}

func getCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <dataId>",
		Short: "Print a configuration's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			content, err := client.GetConfig(cmd.Context(), args[0], flags.group)
			if err != nil {
				if errors.Is(err, nacosconfig.ErrConfigNotFound) {
					return fmt.Errorf("config %q not found", args[0])
				}
				return err
			}
			fmt.Print(content)
			if !strings.HasSuffix(content, "\n") {
				fmt.Println()
			}
			return nil
		},
	}
}

func publishCommand(flags *cliFlags) *cobra.Command {
	var contentType string
	var fromFile string

	cmd := &cobra.Command{
		Use:   "publish <dataId> [content]",
		Short: "Create or update a configuration",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var content string
			switch {
			case fromFile != "":
				raw, err := os.ReadFile(fromFile)
				if err != nil {
					return err
				}
				content = string(raw)
			case len(args) == 2:
				content = args[1]
			default:
				return fmt.Errorf("provide content inline or via --file")
			}

			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			ok, err := client.PublishConfig(cmd.Context(), args[0], flags.group, content, contentType)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("server rejected the publish")
			}
			fmt.Println("published", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&contentType, "type", "t", "text", "content type: text, json, yaml, properties, html")
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "read content from file")
	return cmd
}

func removeCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dataId>",
		Short: "Delete a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			ok, err := client.RemoveConfig(cmd.Context(), args[0], flags.group)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("server rejected the removal")
			}
			fmt.Println("removed", args[0])
			return nil
		},
	}
}

func watchCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <dataId>",
		Short: "Subscribe to a configuration and print every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(flags)
			if err != nil {
				return err
			}
			defer client.Close()

			sub, err := client.Subscribe(args[0], flags.group, func(event nacosconfig.ConfigChangedEvent) {
				fmt.Printf("[%s] %s changed (%d bytes):\n%s\n",
					event.Timestamp.Format("15:04:05"), args[0], len(event.Content), event.Content)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			fmt.Println("watching", args[0], "- press Ctrl-C to stop")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
}
