// Command wrenchai runs the workflow execution runtime.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wrenchchatrepo/wrenchai-sub000/app"
	"github.com/wrenchchatrepo/wrenchai-sub000/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "wrenchai",
		Short: "WrenchAI workflow execution runtime",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to wrenchai.yaml")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			if err := a.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			a.Stop(ctx)
			return nil
		},
	}
	root.AddCommand(serve)
	return root
}
