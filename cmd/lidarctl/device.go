package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidarlink/scanner"
)

var helloCmd = &cobra.Command{
	Use:   "hello",
	Short: "Handshake with the device and print its versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			h, err := s.Hello(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(h)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the device state, time synchronization and clock",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			st, err := s.Status(ctx)
			if err != nil {
				return err
			}
			now, err := s.DeviceTime(ctx)
			if err != nil {
				return err
			}
			out := struct {
				Device      string
				State       string
				Temperature float32
				Error       string `json:",omitempty"`
				TimeSync    string `json:",omitempty"`
				DeviceTime  time.Time
				HostOffset  string
			}{
				Device:      s.Addr(),
				State:       st.State.String(),
				Temperature: st.Temperature,
				Error:       st.ErrorDescription,
				DeviceTime:  now,
				HostOffset:  now.Sub(time.Now()).Round(time.Millisecond).String(),
			}
			if st.TimeSynchronization != nil {
				out.TimeSync = st.TimeSynchronization.State.String()
				if k := st.TimeSynchronization.Kind; k != "" {
					out.TimeSync += " (" + k + ")"
				}
			}
			return printJSON(out)
		})
	},
}

var selfTestCmd = &cobra.Command{
	Use:   "self-test",
	Short: "Run the device self test",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			res, err := s.RunSelfTest(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("self test failed on %s", s.Addr())
			}
			return nil
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Ask a device in the error state to recover",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			return s.AttemptErrorRecovery(cmd.Context())
		})
	},
}
