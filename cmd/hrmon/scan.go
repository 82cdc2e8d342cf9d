package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/devicefactory"
	"github.com/srg/hrmon/scanner"
)

type scanFlags struct {
	transportFlags
	duration time.Duration
	name     string
	format   string
}

// newScanCmd represents the scan command
func newScanCmd() *cobra.Command {
	flags := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for heart rate devices",
		Long: `Scan for nearby devices and list every one that advertises a name.

With --name only devices whose advertised name matches exactly (ignoring case)
are listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, flags)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", scanner.DefaultTimeout, "Scan duration (0 for indefinite)")
	cmd.Flags().StringVarP(&flags.name, "name", "n", "", "Only list devices with this advertised name")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func runScan(cmd *cobra.Command, flags *scanFlags) error {
	validFormats := []string{"table", "json"}
	if flags.format != validFormats[0] && flags.format != validFormats[1] {
		return fmt.Errorf("invalid format '%s': must be one of %v", flags.format, validFormats)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := flags.apply(cmd, cfg); err != nil {
		return err
	}
	if !cmd.Flags().Changed("duration") && cmd.Flags().Changed("config") {
		flags.duration = cfg.ScanTimeout
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

	s := scanner.NewScanner(transport, logger)
	candidates, err := s.Start(ctx, scanner.ScanOptions{NameFilter: flags.name, Timeout: flags.duration})
	if err != nil {
		return err
	}
	defer s.Stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for devices", "Scanning", flags.duration)
	progress.Start()

	seen := make(map[string]device.PeripheralHandle)
	for h := range candidates {
		seen[h.ID()] = h
	}
	progress.Stop()

	devices := make([]device.PeripheralHandle, 0, len(seen))
	for _, h := range seen {
		devices = append(devices, h)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name() != devices[j].Name() {
			return devices[i].Name() < devices[j].Name()
		}
		return devices[i].Address() < devices[j].Address()
	})

	if flags.format == "json" {
		return displayDevicesJSON(cmd.OutOrStdout(), devices)
	}
	return displayDevicesTable(cmd.OutOrStdout(), devices)
}

func displayDevicesTable(out io.Writer, devices []device.PeripheralHandle) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tTRANSPORT")
	fmt.Fprintln(w, "----\t-------\t----\t---------")

	for _, dev := range devices {
		name := dev.Name()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, dev.Address(), dev.RSSI(), dev.Kind())
	}

	return w.Flush()
}

type deviceRecord struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	RSSI      int    `json:"rssi"`
	Transport string `json:"transport"`
}

func displayDevicesJSON(out io.Writer, devices []device.PeripheralHandle) error {
	records := make([]deviceRecord, len(devices))
	for i, d := range devices {
		records[i] = deviceRecord{Name: d.Name(), Address: d.Address(), RSSI: d.RSSI(), Transport: string(d.Kind())}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}
