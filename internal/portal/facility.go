package portal

import (
	"strings"

	"github.com/rs/zerolog"
)

var letterFold = strings.NewReplacer(
	"İ", "I",
	"Ğ", "G",
	"Ü", "U",
	"Ş", "S",
	"Ö", "O",
	"Ç", "C",
)

// NormalizeName uppercases, collapses whitespace and folds Turkish letters to ASCII.
func NormalizeName(name string) string {
	upper := strings.ToUpper(strings.Join(strings.Fields(name), " "))
	return letterFold.Replace(upper)
}

// Facility is one portal consumption site.
type Facility struct {
	Key       string `json:"key"`
	ID        int    `json:"id"`
	Name      string `json:"original_name"`
	CompanyID int    `json:"company_id,omitempty"`
}

// FacilityMap resolves customer names to facilities. Entries keep the portal listing order
// and the map is read-only after construction.
type FacilityMap struct {
	entries []Facility
	index   map[string]int
	logger  zerolog.Logger
}

// FacilityInput is one facility as listed by the portal.
type FacilityInput struct {
	ID        int
	Name      string
	CompanyID int
}

// NewFacilityMap builds the map. Entries with no id or blank name are dropped; a later
// entry with the same normalized name replaces the earlier one in place.
func NewFacilityMap(inputs []FacilityInput, logger zerolog.Logger) *FacilityMap {
	m := &FacilityMap{index: make(map[string]int, len(inputs)), logger: logger}
	for _, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if in.ID == 0 || name == "" {
			continue
		}
		entry := Facility{Key: NormalizeName(name), ID: in.ID, Name: name, CompanyID: in.CompanyID}
		if pos, ok := m.index[entry.Key]; ok {
			m.entries[pos] = entry
			continue
		}
		m.index[entry.Key] = len(m.entries)
		m.entries = append(m.entries, entry)
	}
	return m
}

// Len returns the number of facilities.
func (m *FacilityMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns a copy of the facilities in listing order.
func (m *FacilityMap) Entries() []Facility {
	if m == nil {
		return nil
	}
	return append([]Facility(nil), m.entries...)
}

// Lookup resolves a customer name: an exact normalized match first, then the first entry in
// listing order whose key contains the name or is contained by it.
func (m *FacilityMap) Lookup(customer string) (Facility, bool) {
	if m == nil {
		return Facility{}, false
	}
	key := NormalizeName(customer)
	if key == "" {
		return Facility{}, false
	}
	if pos, ok := m.index[key]; ok {
		return m.entries[pos], true
	}

	var candidates []Facility
	for _, entry := range m.entries {
		if strings.Contains(entry.Key, key) || strings.Contains(key, entry.Key) {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		m.logger.Warn().Str("customer", customer).Msg("no facility found")
		return Facility{}, false
	}
	if len(candidates) > 1 {
		names := make([]string, 0, len(candidates))
		for _, c := range candidates {
			names = append(names, c.Name)
		}
		m.logger.Warn().
			Str("customer", customer).
			Strs("candidates", names).
			Str("chosen", candidates[0].Name).
			Msg("ambiguous facility match")
	} else {
		m.logger.Info().Str("customer", customer).Str("facility", candidates[0].Name).Msg("partial facility match")
	}
	return candidates[0], true
}
