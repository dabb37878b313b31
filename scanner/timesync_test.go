package scanner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarlink/internal/mockup"
	"github.com/banshee-data/lidarlink/internal/timeutil"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

func timeSyncScanner(t *testing.T, syncAfter int) (*Scanner, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	srv := startMockup(t, mockup.Options{SyncAfterPolls: syncAfter})
	s := openScanner(t, srv, Options{
		Clock:                clock,
		TimeSyncTimeout:      3 * time.Second,
		TimeSyncPollInterval: time.Second,
	})
	return s, clock
}

var ntpConfig = &schema.TimeSynchronization{NTP: &schema.NTPConfig{Servers: []string{"pool.ntp.org"}}}

func TestSetTimeSynchronization_Waits(t *testing.T) {
	s, clock := timeSyncScanner(t, 2)
	ctx := testContext(t)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.TimeSyncStateStopped, st.TimeSynchronization.State)

	require.NoError(t, s.SetTimeSynchronization(ctx, ntpConfig, false, true))
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Sleeps())

	got, err := s.TimeSynchronization(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.NTP)
	assert.Equal(t, []string{"pool.ntp.org"}, got.NTP.Servers)

	st, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.TimeSyncStateSynced, st.TimeSynchronization.State)
	assert.Equal(t, "ntp", st.TimeSynchronization.Kind)
}

func TestSetTimeSynchronization_Timeout(t *testing.T) {
	s, clock := timeSyncScanner(t, -1)

	err := s.SetTimeSynchronization(testContext(t), &schema.TimeSynchronization{PTP: &schema.PTPConfig{Domain: 1}}, false, true)
	require.ErrorIs(t, err, ErrTimeSyncTimeout)

	var timeout *TimeSyncTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, schema.TimeSyncStateInitializing, timeout.Last)
	assert.Equal(t, 3*time.Second, timeout.Waited)
	assert.Contains(t, err.Error(), "INITIALIZING")
	assert.Len(t, clock.Sleeps(), 3)
}

func TestSetTimeSynchronization_NoWait(t *testing.T) {
	s, clock := timeSyncScanner(t, -1)

	require.NoError(t, s.SetTimeSynchronization(testContext(t), ntpConfig, true, false))
	assert.Empty(t, clock.Sleeps())

	assert.Error(t, s.SetTimeSynchronization(testContext(t), &schema.TimeSynchronization{}, false, false))
}

func TestTimeSynchronization_Unset(t *testing.T) {
	s, _ := timeSyncScanner(t, 0)
	got, err := s.TimeSynchronization(testContext(t))
	require.NoError(t, err)
	assert.Nil(t, got.NTP)
	assert.Nil(t, got.PTP)
}

func TestHostClockOffset_Unreachable(t *testing.T) {
	_, err := HostClockOffset("127.0.0.1", 50*time.Millisecond)
	assert.Error(t, err)
}
