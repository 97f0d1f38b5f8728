package main

import (
	"github.com/spf13/cobra"

	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/mcpserver"
)

var version = "dev"

var mcpCmd = &cobra.Command{
	Use:   "mcp [tenant-slug]",
	Short: "Expose a tenant conversation as MCP tools over stdio",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug, err := tenantArg(args)
		if err != nil {
			return err
		}

		orch, closeConv := newConversation(cfg)
		defer closeConv()

		s, err := orch.Bootstrap(cmd.Context(), slug)
		if err != nil {
			return err
		}
		logger.L.Info("mcp bridge ready", "tenant", s.Tenant.Slug, "session", s.ShortID())

		srv := mcpserver.NewServer("tenantchat-"+s.Tenant.Slug, version, mcpserver.NewBridge(orch))
		return mcpserver.Serve(srv)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
