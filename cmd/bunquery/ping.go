package main

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the store is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		e, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		opts := connOptions(cmd)
		if err := e.Ping(context.Background(), opts); err != nil {
			pterm.Error.Println("Redis Connection Error: " + err.Error())
			return err
		}
		pterm.Success.Println("Redis Connection test OK")
		return nil
	},
}

func init() {
	addConnFlags(pingCmd.Flags())
}
