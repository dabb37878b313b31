package scanner

import (
	"context"
	"fmt"

	"github.com/banshee-data/lidarlink/internal/monitoring"
	"github.com/banshee-data/lidarlink/protocol/schema"
)

// ScanPattern returns the active scan pattern.
func (s *Scanner) ScanPattern(ctx context.Context) (*schema.ScanPattern, error) {
	resp, err := s.request(ctx, &schema.Request{Kind: schema.RequestGetScanPattern}, schema.ResponseGetScanPattern)
	if err != nil {
		return nil, err
	}
	return orEmptyPattern(resp.ScanPattern), nil
}

// FillScanPattern lets the device complete a partial scan pattern with its
// defaults. The result can be passed to SetScanPattern.
func (s *Scanner) FillScanPattern(ctx context.Context, sp *schema.ScanPattern) (*schema.ScanPattern, error) {
	resp, err := s.request(ctx, &schema.Request{
		Kind:            schema.RequestFillScanPattern,
		FillScanPattern: &schema.FillScanPattern{Config: sp},
	}, schema.ResponseFillScanPattern)
	if err != nil {
		return nil, err
	}
	return orEmptyPattern(resp.ScanPattern), nil
}

// SetScanPattern activates sp. With persist set the device keeps it across
// power cycles.
func (s *Scanner) SetScanPattern(ctx context.Context, sp *schema.ScanPattern, persist bool) error {
	if sp == nil {
		return fmt.Errorf("set scan pattern: no pattern given")
	}
	_, err := s.request(ctx, &schema.Request{
		Kind:           schema.RequestSetScanPattern,
		SetScanPattern: &schema.SetScanPattern{Config: sp, Persist: persist},
	}, schema.ResponseSetScanPattern)
	if err == nil {
		monitoring.Logf("[scanner] %s scan pattern set (persist=%v)", s.Addr(), persist)
	}
	return err
}

// SetScanPatternByName activates a named scan pattern stored on the device.
func (s *Scanner) SetScanPatternByName(ctx context.Context, name string, persist bool) error {
	if name == "" {
		return fmt.Errorf("set scan pattern: empty name")
	}
	_, err := s.request(ctx, &schema.Request{
		Kind:           schema.RequestSetScanPattern,
		SetScanPattern: &schema.SetScanPattern{Name: name, Persist: persist},
	}, schema.ResponseSetScanPattern)
	if err == nil {
		monitoring.Logf("[scanner] %s scan pattern %q set (persist=%v)", s.Addr(), name, persist)
	}
	return err
}

// NamedScanPatterns lists the built-in and user-stored patterns.
func (s *Scanner) NamedScanPatterns(ctx context.Context) ([]*schema.NamedScanPattern, error) {
	resp, err := s.request(ctx, &schema.Request{Kind: schema.RequestGetNamedScanPatterns}, schema.ResponseGetNamedScanPatterns)
	if err != nil {
		return nil, err
	}
	return resp.NamedScanPatterns, nil
}

// StoreNamedScanPattern stores sp under name. Built-in names are read only
// and the device rejects them.
func (s *Scanner) StoreNamedScanPattern(ctx context.Context, name string, sp *schema.ScanPattern) error {
	if name == "" || sp == nil {
		return fmt.Errorf("store named scan pattern: name and pattern are required")
	}
	_, err := s.request(ctx, &schema.Request{
		Kind:                  schema.RequestStoreNamedScanPattern,
		StoreNamedScanPattern: &schema.NamedScanPattern{Name: name, Config: sp},
	}, schema.ResponseStoreNamedScanPattern)
	return err
}

// DeleteNamedScanPattern removes a user-stored pattern.
func (s *Scanner) DeleteNamedScanPattern(ctx context.Context, name string) error {
	_, err := s.request(ctx, &schema.Request{
		Kind:                   schema.RequestDeleteNamedScanPattern,
		DeleteNamedScanPattern: &schema.DeleteNamedScanPattern{Name: name},
	}, schema.ResponseDeleteNamedScanPattern)
	return err
}

// AdvancedConfig returns the device tuning parameters.
func (s *Scanner) AdvancedConfig(ctx context.Context) (*schema.AdvancedConfig, error) {
	resp, err := s.request(ctx, &schema.Request{Kind: schema.RequestGetAdvancedConfig}, schema.ResponseGetAdvancedConfig)
	if err != nil {
		return nil, err
	}
	if resp.AdvancedConfig == nil {
		return &schema.AdvancedConfig{}, nil
	}
	return resp.AdvancedConfig, nil
}

// SetAdvancedConfig replaces the device tuning parameters.
func (s *Scanner) SetAdvancedConfig(ctx context.Context, cfg *schema.AdvancedConfig, persist bool) error {
	if cfg == nil {
		return fmt.Errorf("set advanced config: no config given")
	}
	_, err := s.request(ctx, &schema.Request{
		Kind:              schema.RequestSetAdvancedConfig,
		SetAdvancedConfig: &schema.SetAdvancedConfig{Config: cfg, Persist: persist},
	}, schema.ResponseSetAdvancedConfig)
	return err
}

func orEmptyPattern(sp *schema.ScanPattern) *schema.ScanPattern {
	if sp == nil {
		return &schema.ScanPattern{}
	}
	return sp
}
