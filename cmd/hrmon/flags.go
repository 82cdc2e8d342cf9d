package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/pkg/config"
)

// transportFlags are shared by every command that opens the radio. Flags the
// user did not set leave the configuration untouched.
type transportFlags struct {
	transport string
	adapter   string
	channel   uint8
}

func (f *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.transport, "transport", "t", config.TransportBLE, "Transport (ble, classic)")
	cmd.Flags().StringVar(&f.adapter, "adapter", "hci0", "Host controller interface")
	cmd.Flags().Uint8Var(&f.channel, "channel", 1, "RFCOMM channel for the classic transport")
}

func (f *transportFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("transport") {
		cfg.Transport = strings.ToLower(f.transport)
	}
	if cmd.Flags().Changed("adapter") {
		cfg.Adapter = f.adapter
	}
	if cmd.Flags().Changed("channel") {
		cfg.RFCOMMChannel = f.channel
	}
	return cfg.Validate()
}

// signalContext derives a context from the command's that is cancelled on
// Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
