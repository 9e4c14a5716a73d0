package elevation

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNoProvider is returned when the provider chosen for a point is nil.
var ErrNoProvider = errors.New("no provider")

// A CoverageRule routes queries for which Covers returns true to Provider.
type CoverageRule struct {
	Covers   func(lat, lon float64) bool
	Provider Provider
}

// A MultiSourceProvider delegates each query to the first provider whose
// coverage rule matches.
type MultiSourceProvider struct {
	rules []CoverageRule
}

// NewMultiSourceProvider returns a MultiSourceProvider that uses primary
// where SRTMCoverage holds and fallback everywhere else.
func NewMultiSourceProvider(primary, fallback Provider) *MultiSourceProvider {
	return NewMultiSourceProviderWithRules(fallback, CoverageRule{
		Covers:   SRTMCoverage,
		Provider: primary,
	})
}

// NewMultiSourceProviderWithRules returns a MultiSourceProvider that
// evaluates rules in order, using fallback when none match.
func NewMultiSourceProviderWithRules(fallback Provider, rules ...CoverageRule) *MultiSourceProvider {
	p := &MultiSourceProvider{
		rules: make([]CoverageRule, 0, len(rules)+1),
	}
	p.rules = append(p.rules, rules...)
	p.rules = append(p.rules, CoverageRule{
		Covers:   everywhere,
		Provider: fallback,
	})
	return p
}

// SRTMCoverage returns whether lat, lon lies strictly between 56°S and
// 60°N.
func SRTMCoverage(lat, lon float64) bool {
	return -56 < lat && lat < 60
}

// Elevation returns the elevation from the first matching provider. A nil
// provider is an error.
func (p *MultiSourceProvider) Elevation(lat, lon float64) (float64, error) {
	provider := p.provider(lat, lon)
	if provider == nil {
		return 0, fmt.Errorf("%v, %v: %w", lat, lon, ErrNoProvider)
	}
	return provider.Elevation(lat, lon)
}

// CanInterpolate returns true if every non-nil delegate interpolates.
func (p *MultiSourceProvider) CanInterpolate() bool {
	for _, rule := range p.rules {
		if rule.Provider != nil && !rule.Provider.CanInterpolate() {
			return false
		}
	}
	return true
}

// Release releases every distinct delegate once.
func (p *MultiSourceProvider) Release() {
	if p == nil {
		return
	}
	released := make([]Provider, 0, len(p.rules))
	for _, rule := range p.rules {
		if rule.Provider == nil || slices.Contains(released, rule.Provider) {
			continue
		}
		rule.Provider.Release()
		released = append(released, rule.Provider)
	}
}

func (p *MultiSourceProvider) provider(lat, lon float64) Provider {
	for _, rule := range p.rules[:len(p.rules)-1] {
		if rule.Covers(lat, lon) {
			return rule.Provider
		}
	}
	return p.rules[len(p.rules)-1].Provider
}

func everywhere(lat, lon float64) bool {
	return true
}
