package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/scanner"
)

// patternFlags are the scan pattern parameters settable from the command
// line. Unset flags are left for the device to fill.
type patternFlags struct {
	HorizontalFov float32
	VerticalFov   float32
	ScanlinesUp   uint32
	ScanlinesDown uint32
	AngleSpacing  float32
	FrameRate     float64
	Persist       bool
}

var patternOpts patternFlags

func (f *patternFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float32Var(&f.HorizontalFov, "h-fov", 0, "horizontal field of view in degrees")
	cmd.Flags().Float32Var(&f.VerticalFov, "v-fov", 0, "vertical field of view in degrees")
	cmd.Flags().Uint32Var(&f.ScanlinesUp, "scanlines-up", 0, "scanlines on the upward sweep")
	cmd.Flags().Uint32Var(&f.ScanlinesDown, "scanlines-down", 0, "scanlines on the downward sweep")
	cmd.Flags().Float32Var(&f.AngleSpacing, "angle-spacing", 0, "pulse angle spacing in degrees")
	cmd.Flags().Float64Var(&f.FrameRate, "frame-rate", 0, "target frame rate in Hz")
}

func (f *patternFlags) pattern(cmd *cobra.Command) *schema.ScanPattern {
	sp := &schema.ScanPattern{}
	changed := cmd.Flags().Changed
	if changed("h-fov") {
		sp.Horizontal = &schema.ScanPatternHorizontal{Fov: f.HorizontalFov}
	}
	if changed("v-fov") || changed("scanlines-up") || changed("scanlines-down") {
		sp.Vertical = &schema.ScanPatternVertical{Fov: f.VerticalFov, ScanlinesUp: f.ScanlinesUp, ScanlinesDown: f.ScanlinesDown}
	}
	if changed("angle-spacing") {
		sp.Pulse = &schema.ScanPatternPulse{AngleSpacing: f.AngleSpacing}
	}
	if changed("frame-rate") {
		sp.FrameRate = &schema.ScanPatternFrameRate{Target: f.FrameRate}
	}
	return sp
}

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Show and change the scan pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			sp, err := s.ScanPattern(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(sp)
		})
	},
}

var patternFillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Show the pattern the device would use for the given parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			sp, err := s.FillScanPattern(cmd.Context(), patternOpts.pattern(cmd))
			if err != nil {
				return err
			}
			return printJSON(sp)
		})
	},
}

var patternSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Activate a named pattern, or one built from the flags",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			if len(args) == 1 {
				return s.SetScanPatternByName(ctx, args[0], patternOpts.Persist)
			}
			sp, err := s.FillScanPattern(ctx, patternOpts.pattern(cmd))
			if err != nil {
				return err
			}
			if err := s.SetScanPattern(ctx, sp, patternOpts.Persist); err != nil {
				return err
			}
			return printJSON(sp)
		})
	},
}

var patternListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the named patterns stored on the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			named, err := s.NamedScanPatterns(cmd.Context())
			if err != nil {
				return err
			}
			for _, n := range named {
				ro := ""
				if n.ReadOnly {
					ro = " (read only)"
				}
				fmt.Printf("%s%s\n", n.Name, ro)
			}
			return nil
		})
	},
}

var patternStoreCmd = &cobra.Command{
	Use:   "store <name>",
	Short: "Store the pattern built from the flags under a name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			sp, err := s.FillScanPattern(ctx, patternOpts.pattern(cmd))
			if err != nil {
				return err
			}
			return s.StoreNamedScanPattern(ctx, args[0], sp)
		})
	},
}

var patternDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a named pattern",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			return s.DeleteNamedScanPattern(cmd.Context(), args[0])
		})
	},
}

var advancedCmd = &cobra.Command{
	Use:   "advanced",
	Short: "Show the advanced device configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			cfg, err := s.AdvancedConfig(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{patternFillCmd, patternSetCmd, patternStoreCmd} {
		patternOpts.register(c)
	}
	patternSetCmd.Flags().BoolVar(&patternOpts.Persist, "persist", false, "keep the pattern across reboots")
	patternCmd.AddCommand(patternFillCmd, patternSetCmd, patternListCmd, patternStoreCmd, patternDeleteCmd)
}
