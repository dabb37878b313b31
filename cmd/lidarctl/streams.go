package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/lidarlink/internal/pathutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
	"github.com/banshee-data/lidarlink/scanner"
	"github.com/banshee-data/lidarlink/stream"
)

var (
	recordFrames   int
	recordDuration time.Duration
	replayVerbose  bool
	replayOut      string
	imuBursts      int
	rawDuration    time.Duration
	force          bool
)

// checkTarget refuses to replace an existing file unless --force is set.
func checkTarget(path string) error {
	if !force && fsys.Exists(path) {
		return fmt.Errorf("%s already exists (use --force to replace it)", path)
	}
	return nil
}

// limitContext bounds ctx by d when d is positive.
func limitContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

func printFooter(footer *schema.FileFooter) {
	if footer == nil {
		return
	}
	fmt.Printf("frames=%d points=%d returns=%d pattern_changes=%d\n",
		footer.Stats.Frames, footer.Stats.Points, footer.Stats.Returns, len(footer.Events))
}

var recordCmd = &cobra.Command{
	Use:   "record <file|dir>",
	Short: "Record the point cloud stream to a file",
	Long: `Record frames from the device until --frames are received, --duration
elapses or the command is interrupted. The file is finished cleanly in every
case and can be replayed with "lidarctl replay". Given a directory, the file
is named after the device serial number and the start time.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := limitContext(cmd.Context(), recordDuration)
		defer cancel()
		return withScanner(cmd.Context(), func(s *scanner.Scanner) error {
			pc, err := s.PointCloudStream(cmd.Context(), stream.PointCloudOptions{FailOnLostFrames: clientCfg.GetFailOnLostFrames()})
			if err != nil {
				return err
			}
			defer pc.Stop()

			path, err := recordingPath(args[0], pc)
			if err != nil {
				return err
			}
			if err := checkTarget(path); err != nil {
				return err
			}
			fmt.Printf("recording to %s\n", path)

			level := clientCfg.GetCompressionLevel()
			if err := pc.RecordTo(fsys, path, stream.RecordOptions{
				CompressionLevel: &level,
				FlushInterval:    clientCfg.GetFlushInterval(),
			}); err != nil {
				return err
			}

			n := 0
			for recordFrames <= 0 || n < recordFrames {
				_, err := pc.Receive(ctx)
				var seqErr *stream.SequenceError
				switch {
				case errors.Is(err, stream.ErrEndOfStream), errors.Is(err, stream.ErrClosedUngracefully):
					// interrupted or ended by the device; keep what was recorded
					return finishRecording(pc)
				case errors.As(err, &seqErr):
					return errors.Join(err, finishRecording(pc))
				case err != nil:
					return err
				}
				n++
			}
			return finishRecording(pc)
		})
	},
}

// recordingPath is target, or a file named after the device and the current
// time when target is a directory.
func recordingPath(target string, pc *stream.PointCloud) (string, error) {
	info, err := fsys.Stat(target)
	if err != nil || !info.IsDir() {
		return target, nil
	}
	serial := ""
	if d := pc.Metadata().Header.Device; d != nil {
		serial = d.SerialNumber
	}
	path := filepath.Join(target, pathutil.RecordingName(serial, time.Now()))
	if err := pathutil.WithinDir(path, target); err != nil {
		return "", err
	}
	return path, nil
}

// finishRecording writes the footer. A cancelled receive already stopped the
// stream, in which case the footer is in the metadata.
func finishRecording(pc *stream.PointCloud) error {
	footer, err := pc.StopRecording()
	if footer == nil {
		f := pc.Metadata().Footer
		footer = &f
	}
	printFooter(footer)
	return err
}

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Read a recording and summarize it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayOut != "" {
			if err := checkTarget(replayOut); err != nil {
				return err
			}
		}
		pc, err := stream.OpenPointCloud(fsys, args[0], stream.PointCloudOptions{})
		if err != nil {
			return err
		}
		defer pc.Stop()

		meta := pc.Metadata()
		if d := meta.Header.Device; d != nil {
			fmt.Printf("device %s\n", d.SerialNumber)
		}
		if c := meta.Header.Client; c != nil {
			fmt.Printf("recorded by %s %s, session %s\n", c.Language, c.LibraryVersion, c.SessionID)
		}
		fmt.Printf("reference frame %s\n", pc.Reference())

		if replayOut != "" {
			if err := pc.RecordTo(fsys, replayOut, stream.RecordOptions{}); err != nil {
				return err
			}
		}

		var frames, returns uint64
		err = pc.Subscribe(cmd.Context(), func(f *schema.Frame) error {
			frames++
			returns += uint64(f.TotalNumberOfReturns)
			if replayVerbose {
				fmt.Printf("frame %d start=%d returns=%d\n", f.ID, f.StartTimeNs, f.TotalNumberOfReturns)
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Printf("read %d frames, %d returns\n", frames, returns)
		printFooter(&meta.Footer)
		return nil
	},
}

var imuCmd = &cobra.Command{
	Use:   "imu",
	Short: "Print acceleration and rotation statistics of IMU bursts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			imu, err := s.IMUStream(ctx, true)
			if err != nil {
				return err
			}
			defer imu.Stop()

			for i := 0; imuBursts <= 0 || i < imuBursts; i++ {
				burst, err := imu.Receive(ctx)
				if errors.Is(err, stream.ErrEndOfStream) || errors.Is(err, stream.ErrClosedUngracefully) {
					return nil
				}
				if err != nil {
					return err
				}
				cols, err := stream.DecodeIMU(burst)
				if err != nil {
					return err
				}
				st := cols.Stats()
				a := st.Acceleration
				rot := stream.Rotations([][3]float32{{float32(a[0].Mean), float32(a[1].Mean), float32(a[2].Mean)}})[0]
				fmt.Printf("samples=%d acc=(%.3f %.3f %.3f) pitch=%.1f roll=%.1f yaw=%.1f\n",
					st.Samples, a[0].Mean, a[1].Mean, a[2].Mean, rot.Pitch, rot.Roll, rot.Yaw)
			}
			return nil
		})
	},
}

var rawCmd = &cobra.Command{
	Use:   "raw <file>",
	Short: "Save the device-encoded recording stream without decoding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := checkTarget(args[0]); err != nil {
			return err
		}
		return withScanner(ctx, func(s *scanner.Scanner) error {
			out, err := fsys.Create(args[0])
			if err != nil {
				return err
			}
			raw, err := s.RawStream(ctx, nil, out)
			if err != nil {
				out.Close()
				fsys.Remove(args[0])
				return err
			}
			// The deadline is checked between chunks so the stream is still
			// open for Stop to collect the tail.
			deadline := time.Now().Add(rawDuration)
			var n int
			for time.Now().Before(deadline) {
				b, err := raw.Receive(ctx)
				if err != nil {
					break
				}
				n += len(b)
			}
			tail, err := raw.Stop(ctx)
			fmt.Printf("wrote %d bytes\n", n+len(tail))
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print status updates pushed by the device",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withScanner(ctx, func(s *scanner.Scanner) error {
			st, err := s.StatusStream(ctx)
			if err != nil {
				return err
			}
			return st.Subscribe(ctx, func(status *schema.Status) error {
				line := status.State.String()
				if ts := status.TimeSynchronization; ts != nil {
					line += " time_sync=" + ts.State.String()
				}
				fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), line)
				return nil
			})
		})
	},
}

func init() {
	recordCmd.Flags().IntVarP(&recordFrames, "frames", "n", 0, "stop after this many frames (0 records until interrupted)")
	recordCmd.Flags().DurationVarP(&recordDuration, "duration", "d", 0, "stop after this long")
	replayCmd.Flags().BoolVarP(&replayVerbose, "verbose", "v", false, "print every frame")
	replayCmd.Flags().StringVarP(&replayOut, "output", "o", "", "re-record the replayed frames to this file")
	imuCmd.Flags().IntVarP(&imuBursts, "bursts", "n", 10, "number of bursts to read (0 reads until interrupted)")
	for _, c := range []*cobra.Command{recordCmd, replayCmd, rawCmd} {
		c.Flags().BoolVarP(&force, "force", "f", false, "replace an existing output file")
	}
	rawCmd.Flags().DurationVarP(&rawDuration, "duration", "d", 10*time.Second, "how long to record")
}
