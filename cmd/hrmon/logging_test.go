package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "hrmon"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("config", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    logrus.Level
		wantErr string
	}{
		{name: "silent by default", want: logrus.PanicLevel},
		{name: "verbose enables debug", args: []string{"--verbose"}, want: logrus.DebugLevel},
		{name: "log level wins over verbose", args: []string{"--verbose", "--log-level", "warn"}, want: logrus.WarnLevel},
		{name: "config level applies with --config", args: []string{"--config", "hrmon.yaml"}, want: logrus.InfoLevel},
		{name: "invalid level", args: []string{"--log-level", "trace"}, wantErr: "invalid log level: trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(parsedCmd(t, tt.args...), config.DefaultConfig())

			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())
		})
	}
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: device.ErrUnsupportedTransport, want: "not supported"},
		{err: fmt.Errorf("scan: %w", device.ErrRadioDisabled), want: "Turn it on"},
		{err: device.ErrPermissionDenied, want: "CAP_NET_ADMIN"},
		{err: fmt.Errorf("%w: no device named %q", ErrDeviceNotFound, "HRSTM"), want: "worn and advertising"},
		{err: device.ErrServiceDiscoveryFailed, want: "remove the pairing"},
		{err: errors.New("boom"), want: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Contains(t, FormatUserError(tt.err), tt.want)
		})
	}
	assert.Empty(t, FormatUserError(nil))
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
