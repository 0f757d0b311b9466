package cmd

import (
	"github.com/spf13/cobra"

	"rtc-continuity/config"
	server2 "rtc-continuity/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start continuity server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
