package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/comigor/tenant-chat/internal/devserver"
	"github.com/comigor/tenant-chat/internal/llm"
	"github.com/comigor/tenant-chat/internal/logger"
)

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run an in-memory tenant backend for local development",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.DevServer.Addr
		}

		var replier devserver.Replier
		if cfg.LLM.Enabled() {
			replier = llm.NewReplier(llm.NewClient(cfg.LLM), cfg.LLM.Model, cfg.LLM.SystemPrompt)
			logger.L.Info("replies generated by model", "model", cfg.LLM.Model)
		} else {
			logger.L.Info("llm not configured, echoing messages")
		}

		svc := devserver.NewService(cfg.DevServer, replier)
		return devserver.Run(ctx, addr, devserver.NewRouter(svc))
	},
}

func init() {
	rootCmd.AddCommand(devserverCmd)
	devserverCmd.Flags().String("addr", "", "listen address (default devserver.addr)")
}
