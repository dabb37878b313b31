package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"

	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// TimeSynchronization returns the NTP or PTP configuration of the device,
// which is part of its advanced config.
func (s *Scanner) TimeSynchronization(ctx context.Context) (*schema.TimeSynchronization, error) {
	cfg, err := s.AdvancedConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.TimeSynchronization == nil {
		return &schema.TimeSynchronization{}, nil
	}
	return cfg.TimeSynchronization, nil
}

// SetTimeSynchronization configures NTP or PTP. With wait set it then blocks
// until the device reports a synchronized clock; see WaitForTimeSync.
func (s *Scanner) SetTimeSynchronization(ctx context.Context, cfg *schema.TimeSynchronization, persist, wait bool) error {
	if cfg == nil || (cfg.NTP == nil && cfg.PTP == nil) {
		return fmt.Errorf("set time synchronization: either NTP or PTP must be configured")
	}
	_, err := s.request(ctx, &schema.Request{
		Kind:                   schema.RequestSetTimeSynchronization,
		SetTimeSynchronization: &schema.SetTimeSynchronization{Config: cfg, Persist: persist},
	}, schema.ResponseSetTimeSynchronization)
	if err != nil {
		return err
	}
	if !wait {
		return nil
	}
	_, err = s.WaitForTimeSync(ctx)
	return err
}

// WaitForTimeSync polls the device status until time synchronization reports
// SYNCED. It gives up after the configured timeout with a
// *TimeSyncTimeoutError naming the last observed state.
func (s *Scanner) WaitForTimeSync(ctx context.Context) (*schema.TimeSynchronizationStatus, error) {
	clock := s.opts.Clock
	start := clock.Now()
	last := schema.TimeSyncStateUnknown
	for {
		st, err := s.Status(ctx)
		if err != nil {
			return nil, err
		}
		if ts := st.TimeSynchronization; ts != nil {
			if ts.State != last {
				monitoring.Logf("[scanner] %s time synchronization %s", s.Addr(), ts.State)
			}
			last = ts.State
			if ts.State == schema.TimeSyncStateSynced {
				return ts, nil
			}
		}
		if waited := clock.Since(start); waited >= s.opts.TimeSyncTimeout {
			return nil, &TimeSyncTimeoutError{Addr: s.Addr(), Waited: waited, Last: last}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock.Sleep(s.opts.TimeSyncPollInterval)
	}
}

// HostClockOffset queries an NTP server and returns the offset of the local
// clock from it. Comparing it with the offset the device reports shows
// whether host and device agree on time.
func HostClockOffset(server string, timeout time.Duration) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("query ntp server %s: %w", server, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntp server %s: %w", server, err)
	}
	return resp.ClockOffset, nil
}
