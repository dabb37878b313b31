package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// DefaultMaxTimeDifference is the clock difference Sync tolerates between
// devices.
const DefaultMaxTimeDifference = 100 * time.Millisecond

// SyncOptions control Sync.
type SyncOptions struct {
	// ScanPattern is filled on each device and applied. Nil keeps the
	// active pattern of each device.
	ScanPattern *schema.ScanPattern
	// TargetFrameRate in Hz. Zero, or a rate above what every device can
	// reach, selects the highest common rate.
	TargetFrameRate float64
	// MaxTimeDifference defaults to DefaultMaxTimeDifference.
	MaxTimeDifference time.Duration
}

// Sync sets the devices to a common frame rate so they record frames at the
// same time. It returns the applied frame rate.
//
// The rate is the lowest maximum frame rate among the devices, or the target
// if that is lower. Afterwards the device clocks are read one after another
// and compared with the first device; a difference above MaxTimeDifference
// fails with a *SyncError.
func Sync(ctx context.Context, devices []*Scanner, opts SyncOptions) (float64, error) {
	if len(devices) == 0 {
		return 0, fmt.Errorf("sync: no devices")
	}
	if opts.MaxTimeDifference <= 0 {
		opts.MaxTimeDifference = DefaultMaxTimeDifference
	}

	var maxRate float64
	for i, d := range devices {
		sp, err := d.candidatePattern(ctx, opts.ScanPattern)
		if err != nil {
			return 0, fmt.Errorf("sync %s: %w", d.Addr(), err)
		}
		var m float64
		if sp.FrameRate != nil {
			m = sp.FrameRate.Maximum
		}
		if i == 0 || m < maxRate {
			maxRate = m
		}
	}

	rate := clampFrameRate(opts.TargetFrameRate, maxRate)
	monitoring.Logf("[scanner] syncing %d devices to %.2f Hz (maximum %.2f Hz)", len(devices), rate, maxRate)

	for _, d := range devices {
		sp, err := d.candidatePattern(ctx, opts.ScanPattern)
		if err != nil {
			return 0, fmt.Errorf("sync %s: %w", d.Addr(), err)
		}
		if sp.FrameRate == nil {
			sp.FrameRate = &schema.ScanPatternFrameRate{}
		}
		sp.FrameRate.Target = rate
		if err := d.SetScanPattern(ctx, sp, false); err != nil {
			return 0, fmt.Errorf("sync %s: %w", d.Addr(), err)
		}
	}

	times := make([]time.Time, len(devices))
	for i, d := range devices {
		t, err := d.DeviceTime(ctx)
		if err != nil {
			return 0, fmt.Errorf("sync %s: %w", d.Addr(), err)
		}
		times[i] = t
	}
	var total time.Duration
	for i := 1; i < len(times); i++ {
		diff := times[i].Sub(times[0]).Abs()
		total += diff
		if diff > opts.MaxTimeDifference {
			return rate, &SyncError{
				Device:    devices[i].Addr(),
				Reference: devices[0].Addr(),
				Diff:      diff,
				Max:       opts.MaxTimeDifference,
			}
		}
	}
	monitoring.Logf("[scanner] sync triggered, total time difference %s", total)
	return rate, nil
}

func clampFrameRate(target, maximum float64) float64 {
	if target > 0 && target < maximum {
		return target
	}
	return maximum
}

func (s *Scanner) candidatePattern(ctx context.Context, sp *schema.ScanPattern) (*schema.ScanPattern, error) {
	if sp != nil {
		return s.FillScanPattern(ctx, sp)
	}
	return s.ScanPattern(ctx)
}
