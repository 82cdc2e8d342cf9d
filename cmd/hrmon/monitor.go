package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/client"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/devicefactory"
	"github.com/srg/hrmon/pkg/config"
)

const shutdownTimeout = 5 * time.Second

type monitorFlags struct {
	transportFlags
	name    string
	timeout time.Duration
	format  string
}

// newMonitorCmd represents the monitor command
func newMonitorCmd() *cobra.Command {
	flags := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Connect to a heart rate strap and stream its readings",
		Long: `Scan for a device by advertised name, connect to the first match and stream
every reading until Ctrl+C or until the connection is lost.

Readable characteristics are read once after connecting; notifiable ones (such as
Heart Rate Measurement) are streamed as they arrive.

Examples:
  # Monitor the default strap
  hrmon monitor

  # Monitor a classic strap on RFCOMM channel 2 and emit JSON lines
  hrmon monitor --name "Polar H10" --transport classic --channel 2 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&flags.name, "name", "n", "HRSTM", "Advertised name of the device to connect to")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "How long to scan for the device")
	cmd.Flags().StringVarP(&flags.format, "format", "f", config.OutputText, "Output format (text, json)")
	return cmd
}

func runMonitor(cmd *cobra.Command, flags *monitorFlags) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("name") {
		cfg.DeviceName = flags.name
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ScanTimeout = flags.timeout
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat = strings.ToLower(flags.format)
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	transport, err := devicefactory.TransportFactory(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	c := client.New(transport, logger, &client.Options{DeliveryBuffer: cfg.DeliveryBuffer})
	defer shutdownClient(c, logger)

	printer := newReadingPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.OutputFormat)
	session := newMonitorSession()
	c.Subscribe(client.Subscriber{
		OnMeasurement: printer.Reading,
		OnConnected:   printer.Connected,
		OnError: func(err error) {
			if !session.fatal(err) {
				printer.Warning(err)
			}
		},
		OnStateChange: session.stateChanged,
	})

	handle, err := findDevice(ctx, cmd, c, cfg)
	if err != nil {
		return err
	}

	c.RequestConnect(handle)

	select {
	case <-ctx.Done():
		return nil
	case err := <-session.ended:
		return err
	}
}

// findDevice scans for the configured name and returns the first match. The
// scan is stopped before returning.
func findDevice(ctx context.Context, cmd *cobra.Command, c *client.Client, cfg *config.Config) (device.PeripheralHandle, error) {
	candidates, err := c.StartScan(ctx, cfg.DeviceName, cfg.ScanTimeout)
	if err != nil {
		return device.PeripheralHandle{}, err
	}
	defer c.StopScan()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Looking for %s", cfg.DeviceName), "Scanning", cfg.ScanTimeout)
	progress.Start()
	defer progress.Stop()

	select {
	case handle, ok := <-candidates:
		if ok {
			return handle, nil
		}
	case <-ctx.Done():
		return device.PeripheralHandle{}, ctx.Err()
	}

	if err := ctx.Err(); err != nil {
		return device.PeripheralHandle{}, err
	}
	return device.PeripheralHandle{}, fmt.Errorf("%w: no device named %q within %s", ErrDeviceNotFound, cfg.DeviceName, cfg.ScanTimeout)
}

func shutdownClient(c *client.Client, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Client shutdown did not complete")
	}
}

// monitorSession turns client notices into the end of a monitor run: the
// connection failing or being lost once it was requested.
type monitorSession struct {
	ended      chan error
	connecting bool
	lost       error
}

func newMonitorSession() *monitorSession {
	return &monitorSession{ended: make(chan error, 1)}
}

// fatal reports whether err ends the session. Callbacks run one at a time on the
// client's delivery goroutine, so the session needs no locking.
func (s *monitorSession) fatal(err error) bool {
	if errors.Is(err, device.ErrConnectionLost) {
		s.lost = err
		return true
	}
	var readErr *device.ReadError
	var subErr *device.SubscribeError
	if errors.As(err, &readErr) || errors.As(err, &subErr) || errors.Is(err, device.ErrDecode) {
		return false
	}
	return s.connecting
}

func (s *monitorSession) stateChanged(st client.Status) {
	switch st.State {
	case client.Connecting:
		s.connecting = true
	case client.Idle:
		if !s.connecting {
			return
		}
		err := st.Reason
		if err == nil {
			err = s.lost
		}
		if err == nil {
			err = device.ErrConnectionLost
		}
		select {
		case s.ended <- err:
		default:
		}
	}
}
