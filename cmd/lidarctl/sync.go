package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/scanner"
)

var (
	syncFrameRate float64
	syncMaxDiff   time.Duration

	timeSyncPersist bool
	timeSyncNoWait  bool
	ntpServers      []string
	ptpDomain       uint32
	ptpUnicast      []string
	offsetServer    string
	offsetTimeout   time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync <host> <host>...",
	Short: "Run several devices at a common frame rate and check their clocks",
	Long: `Set every device to the highest frame rate all of them reach, or to
--frame-rate when lower. Scan pattern flags are applied to every device
first. The command fails when device clocks differ by more than --max-diff.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var devices []*scanner.Scanner
		defer func() {
			for _, d := range devices {
				d.Close()
			}
		}()
		for _, host := range args {
			s, err := openScanner(ctx, host)
			if err != nil {
				return err
			}
			devices = append(devices, s)
		}

		opts := scanner.SyncOptions{TargetFrameRate: syncFrameRate, MaxTimeDifference: syncMaxDiff}
		if sp := patternOpts.pattern(cmd); sp.Horizontal != nil || sp.Vertical != nil || sp.Pulse != nil {
			sp.FrameRate = nil
			opts.ScanPattern = sp
		}
		rate, err := scanner.Sync(ctx, devices, opts)
		if rate > 0 {
			fmt.Printf("frame rate %.2f Hz on %d devices\n", rate, len(devices))
		}
		return err
	},
}

var timeSyncCmd = &cobra.Command{
	Use:   "timesync",
	Short: "Show the time synchronization of the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			cfg, err := s.TimeSynchronization(ctx)
			if err != nil {
				return err
			}
			st, err := s.Status(ctx)
			if err != nil {
				return err
			}
			out := struct {
				Config *schema.TimeSynchronization
				State  string `json:",omitempty"`
			}{Config: cfg}
			if st.TimeSynchronization != nil {
				out.State = st.TimeSynchronization.State.String()
			}
			return printJSON(out)
		})
	},
}

func setTimeSync(cmd *cobra.Command, cfg *schema.TimeSynchronization) error {
	ctx := cmd.Context()
	return withScanner(ctx, func(s *scanner.Scanner) error {
		if err := s.SetTimeSynchronization(ctx, cfg, timeSyncPersist, !timeSyncNoWait); err != nil {
			return err
		}
		if !timeSyncNoWait {
			fmt.Printf("%s synchronized\n", s.Addr())
		}
		return nil
	})
}

var timeSyncNTPCmd = &cobra.Command{
	Use:   "ntp",
	Short: "Synchronize the device clock with NTP servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(ntpServers) == 0 {
			return fmt.Errorf("at least one --server is required")
		}
		return setTimeSync(cmd, &schema.TimeSynchronization{NTP: &schema.NTPConfig{Servers: ntpServers}})
	},
}

var timeSyncPTPCmd = &cobra.Command{
	Use:   "ptp",
	Short: "Synchronize the device clock with PTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return setTimeSync(cmd, &schema.TimeSynchronization{PTP: &schema.PTPConfig{Domain: ptpDomain, UnicastDestinations: ptpUnicast}})
	},
}

var timeSyncOffsetCmd = &cobra.Command{
	Use:   "offset",
	Short: "Compare the host clock with an NTP server and the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := scanner.HostClockOffset(offsetServer, offsetTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("host offset to %s: %s\n", offsetServer, offset)

		if flags.Host == "" && clientCfg.GetHost() == "" {
			return nil
		}
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			now, err := s.DeviceTime(ctx)
			if err != nil {
				return err
			}
			diff := now.Sub(time.Now().Add(offset))
			fmt.Printf("device offset to %s: %s\n", offsetServer, diff.Round(time.Microsecond))
			return nil
		})
	},
}

func init() {
	syncCmd.Flags().Float64Var(&syncFrameRate, "frame-rate", 0, "target frame rate in Hz (0 uses the highest common rate)")
	syncCmd.Flags().DurationVar(&syncMaxDiff, "max-diff", scanner.DefaultMaxTimeDifference, "largest allowed clock difference between devices")
	syncCmd.Flags().Float32Var(&patternOpts.HorizontalFov, "h-fov", 0, "horizontal field of view in degrees")
	syncCmd.Flags().Float32Var(&patternOpts.VerticalFov, "v-fov", 0, "vertical field of view in degrees")
	syncCmd.Flags().Uint32Var(&patternOpts.ScanlinesUp, "scanlines-up", 0, "scanlines on the upward sweep")
	syncCmd.Flags().Uint32Var(&patternOpts.ScanlinesDown, "scanlines-down", 0, "scanlines on the downward sweep")
	syncCmd.Flags().Float32Var(&patternOpts.AngleSpacing, "angle-spacing", 0, "pulse angle spacing in degrees")

	timeSyncCmd.PersistentFlags().BoolVar(&timeSyncPersist, "persist", false, "keep the setting across reboots")
	timeSyncCmd.PersistentFlags().BoolVar(&timeSyncNoWait, "no-wait", false, "return without waiting for the clock to synchronize")
	timeSyncNTPCmd.Flags().StringSliceVar(&ntpServers, "server", nil, "NTP server, may be repeated")
	timeSyncPTPCmd.Flags().Uint32Var(&ptpDomain, "domain", 0, "PTP domain")
	timeSyncPTPCmd.Flags().StringSliceVar(&ptpUnicast, "unicast", nil, "unicast destination, may be repeated")
	timeSyncOffsetCmd.Flags().StringVar(&offsetServer, "ntp-server", "pool.ntp.org", "NTP server to compare against")
	timeSyncOffsetCmd.Flags().DurationVar(&offsetTimeout, "timeout", 5*time.Second, "NTP query timeout")
	timeSyncCmd.AddCommand(timeSyncNTPCmd, timeSyncPTPCmd, timeSyncOffsetCmd)
}
