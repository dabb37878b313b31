package mockup

import (
	"sort"
	"sync"

	"github.com/banshee-data/lidarlink/protocol/schema"
)

// DefaultPatternName is the read-only pattern every mockup starts with.
const DefaultPatternName = "Default"

// device is the configuration state shared by all sessions of a server.
type device struct {
	mu sync.Mutex

	maxFrameRate float64
	pattern      *schema.ScanPattern
	named        map[string]*schema.NamedScanPattern
	advanced     *schema.AdvancedConfig
	state        schema.ScannerState

	// time synchronization becomes SYNCED after syncPolls status requests
	timeSync      schema.TimeSyncState
	syncAfter     int
	syncPolls     int
	timeSyncKind  string
	selfTestFails bool
}

func newDevice(opts Options) *device {
	d := &device{
		maxFrameRate:  opts.MaxFrameRate,
		named:         map[string]*schema.NamedScanPattern{},
		advanced:      &schema.AdvancedConfig{},
		state:         schema.ScannerStateReady,
		timeSync:      schema.TimeSyncStateStopped,
		syncAfter:     opts.SyncAfterPolls,
		selfTestFails: opts.FailSelfTest,
	}
	d.pattern = d.fill(&schema.ScanPattern{})
	d.named[DefaultPatternName] = &schema.NamedScanPattern{Name: DefaultPatternName, Config: clonePattern(d.pattern), ReadOnly: true}
	return d
}

func clonePattern(sp *schema.ScanPattern) *schema.ScanPattern {
	out := &schema.ScanPattern{}
	if sp != nil {
		// a pattern that marshalled cannot fail to unmarshal
		_ = out.Unmarshal(sp.Marshal())
	}
	return out
}

// fill completes sp with defaults. The maximum frame rate is fixed by the
// server options.
func (d *device) fill(sp *schema.ScanPattern) *schema.ScanPattern {
	out := clonePattern(sp)
	if out.Horizontal == nil {
		out.Horizontal = &schema.ScanPatternHorizontal{Fov: 72}
	}
	if out.Vertical == nil {
		out.Vertical = &schema.ScanPatternVertical{Fov: 30, ScanlinesUp: 40, ScanlinesDown: 40}
	}
	if out.Pulse == nil {
		out.Pulse = &schema.ScanPatternPulse{AngleSpacing: 0.4, FrameMode: schema.FrameModeCombineUpDown}
	}
	if out.FrameRate == nil {
		out.FrameRate = &schema.ScanPatternFrameRate{}
	}
	out.FrameRate.Maximum = d.maxFrameRate
	if out.FrameRate.Target == 0 {
		out.FrameRate.Target = d.maxFrameRate
	}
	return out
}

func (d *device) fillPattern(sp *schema.ScanPattern) *schema.ScanPattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fill(sp)
}

func (d *device) scanPattern() *schema.ScanPattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clonePattern(d.pattern)
}

func (d *device) setScanPattern(req *schema.SetScanPattern) schema.ErrorDetail {
	d.mu.Lock()
	defer d.mu.Unlock()

	sp := req.Config
	if req.Name != "" {
		n, ok := d.named[req.Name]
		if !ok {
			return &schema.ErrorFlag{Code: schema.ErrNotFound}
		}
		sp = n.Config
	}
	if sp == nil {
		return schema.NewErrorText(schema.ErrInvalidRequest, "scan pattern is missing")
	}
	filled := d.fill(sp)
	if t := filled.FrameRate.Target; t > d.maxFrameRate {
		return schema.NewNotInRange("frame_rate.target", 0, float32(d.maxFrameRate), float32(t), "Hz")
	}
	d.pattern = filled
	return nil
}

func (d *device) namedPatterns() []*schema.NamedScanPattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.named))
	for n := range d.named {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*schema.NamedScanPattern, 0, len(names))
	for _, n := range names {
		p := d.named[n]
		out = append(out, &schema.NamedScanPattern{Name: p.Name, Config: clonePattern(p.Config), ReadOnly: p.ReadOnly})
	}
	return out
}

func (d *device) storeNamed(p *schema.NamedScanPattern) schema.ErrorDetail {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == nil || p.Name == "" || p.Config == nil {
		return schema.NewErrorText(schema.ErrInvalidRequest, "name and config are required")
	}
	if old, ok := d.named[p.Name]; ok && old.ReadOnly {
		return &schema.ErrorFlag{Code: schema.ErrNotAllowed}
	}
	d.named[p.Name] = &schema.NamedScanPattern{Name: p.Name, Config: d.fill(p.Config)}
	return nil
}

func (d *device) deleteNamed(name string) schema.ErrorDetail {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.named[name]
	switch {
	case !ok:
		return &schema.ErrorFlag{Code: schema.ErrNotFound}
	case p.ReadOnly:
		return &schema.ErrorFlag{Code: schema.ErrNotAllowed}
	}
	delete(d.named, name)
	return nil
}

func (d *device) advancedConfig() *schema.AdvancedConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := &schema.AdvancedConfig{}
	_ = out.Unmarshal(d.advanced.Marshal())
	return out
}

func (d *device) setAdvancedConfig(cfg *schema.AdvancedConfig) schema.ErrorDetail {
	if cfg == nil {
		return schema.NewErrorText(schema.ErrInvalidRequest, "advanced config is missing")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := d.advanced.TimeSynchronization
	d.advanced = cfg
	if d.advanced.TimeSynchronization == nil {
		d.advanced.TimeSynchronization = ts
	}
	return nil
}

func (d *device) setTimeSync(cfg *schema.TimeSynchronization) schema.ErrorDetail {
	if cfg == nil || (cfg.NTP == nil && cfg.PTP == nil) {
		return schema.NewErrorText(schema.ErrInvalidRequest, "either ntp or ptp must be set")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanced.TimeSynchronization = cfg
	d.timeSync = schema.TimeSyncStateInitializing
	d.timeSyncKind = "ntp"
	if cfg.PTP != nil {
		d.timeSyncKind = "ptp"
	}
	d.syncPolls = 0
	return nil
}

// status reports the device state. Each call counts as one poll towards
// time synchronization. A negative syncAfter never synchronizes.
func (d *device) status() *schema.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timeSync == schema.TimeSyncStateInitializing && d.syncAfter >= 0 {
		d.syncPolls++
		if d.syncPolls > d.syncAfter {
			d.timeSync = schema.TimeSyncStateSynced
		}
	}
	return &schema.Status{
		State:               d.state,
		TimeSynchronization: &schema.TimeSynchronizationStatus{State: d.timeSync, Kind: d.timeSyncKind},
		Temperature:         35,
	}
}

func (d *device) setState(s schema.ScannerState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *device) selfTest() *schema.SelfTestResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selfTestFails {
		return &schema.SelfTestResult{Success: false, Report: "simulated detector failure"}
	}
	return &schema.SelfTestResult{Success: true, Report: "all checks passed"}
}

func (d *device) recover() schema.ErrorDetail {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != schema.ScannerStateError {
		return &schema.ErrorFlag{Code: schema.ErrWrongOperationMode}
	}
	d.state = schema.ScannerStateReady
	return nil
}
