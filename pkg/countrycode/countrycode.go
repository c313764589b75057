// Package countrycode holds the international calling codes a phone number
// can be entered with, and turns locally written numbers into dialable ones.
package countrycode

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultCountry is selected when nothing else has been chosen.
const DefaultCountry = "DE"

//go:embed countries.yaml
var countriesYAML []byte

// CountryCallingCode describes how numbers of one country are dialed.
type CountryCallingCode struct {
	CountryCode       string `yaml:"countryCode"`       // ISO 3166-1 alpha-2, e.g. DE
	Name              string `yaml:"name"`              // English country name
	CallingCode       uint   `yaml:"callingCode"`       // e.g. 49
	InternationalCode uint   `yaml:"internationalCode"` // e.g. 0 for "00"
	TrunkPrefix       *uint  `yaml:"trunkPrefix"`       // e.g. 0, nil when the country has none
}

// New returns a calling code without trunk prefix.
func New(countryCode string, callingCode uint) CountryCallingCode {
	return CountryCallingCode{CountryCode: countryCode, CallingCode: callingCode}
}

// WithTrunkPrefix returns a copy of c using the given trunk prefix.
func (c CountryCallingCode) WithTrunkPrefix(prefix uint) CountryCallingCode {
	c.TrunkPrefix = &prefix
	return c
}

// ID identifies the entry by its country code.
func (c CountryCallingCode) ID() string {
	return c.CountryCode
}

// CountryName returns the English name, or "n/a" when the table has none.
func (c CountryCallingCode) CountryName() string {
	if c.Name == "" {
		return "n/a"
	}
	return c.Name
}

// FlagSymbol returns the regional indicator emoji for the country code.
func (c CountryCallingCode) FlagSymbol() string {
	const base = 127397
	var b strings.Builder
	for _, r := range strings.ToUpper(c.CountryCode) {
		b.WriteRune(base + r)
	}
	return b.String()
}

func (c CountryCallingCode) removingTrunk(number string) string {
	if c.TrunkPrefix == nil {
		return number
	}
	return strings.TrimPrefix(number, strconv.FormatUint(uint64(*c.TrunkPrefix), 10))
}

// InternationalPhoneNumber strips the trunk prefix and all spaces and
// prepends "+<calling code>".
//
//	"0177 123 45 67" with DE → "+491771234567"
func (c CountryCallingCode) InternationalPhoneNumber(number string) string {
	number = strings.ReplaceAll(c.removingTrunk(number), " ", "")
	return fmt.Sprintf("+%d%s", c.CallingCode, number)
}

// PrettyPrint strips the trunk prefix and returns "+<calling code> <rest>".
func (c CountryCallingCode) PrettyPrint(number string) string {
	return fmt.Sprintf("+%d %s", c.CallingCode, c.removingTrunk(number))
}

// Table is an ordered list of calling codes.
type Table []CountryCallingCode

// CountryCodes returns the country codes in table order.
func (t Table) CountryCodes() []string {
	codes := make([]string, 0, len(t))
	for _, c := range t {
		codes = append(codes, c.CountryCode)
	}
	return codes
}

// Lookup finds an entry by country code, ignoring case.
func (t Table) Lookup(countryCode string) (CountryCallingCode, bool) {
	for _, c := range t {
		if strings.EqualFold(c.CountryCode, countryCode) {
			return c, true
		}
	}
	return CountryCallingCode{}, false
}

// Load parses a YAML list of calling codes.
func Load(data []byte) (Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse country table: %w", err)
	}
	for i, c := range table {
		if c.CountryCode == "" || c.CallingCode == 0 {
			return nil, fmt.Errorf("country table entry %d is incomplete", i)
		}
	}
	return table, nil
}

var (
	defaultOnce  sync.Once
	defaultTable Table
)

// Default returns the embedded table. The returned slice must not be modified.
func Default() Table {
	defaultOnce.Do(func() {
		table, err := Load(countriesYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = table
	})
	return defaultTable
}

// Provider supplies the selectable countries and remembers the choice.
type Provider interface {
	SupportedCountries() Table
	SelectedCountry() string
	SetSelectedCountry(countryCode string)
}

// StaticProvider serves a fixed table and keeps the selection in memory.
type StaticProvider struct {
	mu       sync.Mutex
	table    Table
	selected string
}

// NewStaticProvider creates a provider for table with DefaultCountry selected.
// A nil table means Default().
func NewStaticProvider(table Table) *StaticProvider {
	if table == nil {
		table = Default()
	}
	return &StaticProvider{table: table, selected: DefaultCountry}
}

func (p *StaticProvider) SupportedCountries() Table {
	return p.table
}

func (p *StaticProvider) SelectedCountry() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// SetSelectedCountry ignores codes that are not in the table.
func (p *StaticProvider) SetSelectedCountry(countryCode string) {
	c, ok := p.table.Lookup(countryCode)
	if !ok {
		return
	}
	p.mu.Lock()
	p.selected = c.CountryCode
	p.mu.Unlock()
}

// Selected resolves the current selection, falling back to DefaultCountry
// and then to the first entry of the table.
func Selected(p Provider) (CountryCallingCode, bool) {
	table := p.SupportedCountries()
	if c, ok := table.Lookup(p.SelectedCountry()); ok {
		return c, true
	}
	if c, ok := table.Lookup(DefaultCountry); ok {
		return c, true
	}
	if len(table) > 0 {
		return table[0], true
	}
	return CountryCallingCode{}, false
}
