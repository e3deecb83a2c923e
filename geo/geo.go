// Package geo provides the country and continent lookup tables used by the
// prediction form.
package geo

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v2"
)

// Entry maps a country to its continent.
type Entry struct {
	Name      string `yaml:"name"`
	Continent string `yaml:"continent"`
}

// Table holds the country list, the continent list and the lookup index.
type Table struct {
	countries  []string
	continents []string
	byCountry  map[string]string
}

type tableFile struct {
	Countries  []Entry  `yaml:"countries"`
	Continents []string `yaml:"continents"`
}

// Default returns the built-in table of earthquake-prone countries.
func Default() *Table {
	entries := []Entry{
		{"Japan", "Asia"},
		{"Indonesia", "Asia"},
		{"Chile", "South America"},
		{"Turkey", "Asia"},
		{"Iran", "Asia"},
		{"Italy", "Europe"},
		{"Greece", "Europe"},
		{"Philippines", "Asia"},
		{"Mexico", "North America"},
		{"Peru", "South America"},
		{"New Zealand", "Oceania"},
		{"United States", "North America"},
		{"China", "Asia"},
		{"India", "Asia"},
		{"Afghanistan", "Asia"},
		{"Pakistan", "Asia"},
		{"Ecuador", "South America"},
		{"Guatemala", "North America"},
	}
	continents := []string{"Asia", "North America", "South America", "Europe", "Africa", "Oceania"}
	return build(entries, continents)
}

// Load reads a table from a YAML file. Missing sections fall back to the
// built-in defaults.
func Load(path string) (*Table, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file tableFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return nil, fmt.Errorf("parse geo table: %w", err)
	}
	def := Default()
	entries := file.Countries
	if len(entries) == 0 {
		for _, name := range def.countries {
			continent, _ := def.ContinentOf(name)
			entries = append(entries, Entry{Name: name, Continent: continent})
		}
	}
	continents := file.Continents
	if len(continents) == 0 {
		continents = def.continents
	}
	return build(entries, continents), nil
}

func build(entries []Entry, continents []string) *Table {
	t := &Table{
		countries:  make([]string, 0, len(entries)),
		continents: continents,
		byCountry:  make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		t.countries = append(t.countries, e.Name)
		t.byCountry[foldKey(e.Name)] = e.Continent
	}
	return t
}

// Countries returns the country names in table order.
func (t *Table) Countries() []string {
	out := make([]string, len(t.countries))
	copy(out, t.countries)
	return out
}

// Continents returns the continent names in table order.
func (t *Table) Continents() []string {
	out := make([]string, len(t.continents))
	copy(out, t.continents)
	return out
}

// ContinentOf resolves a country name to its continent. Matching is
// case-insensitive per Unicode case folding.
func (t *Table) ContinentOf(country string) (string, bool) {
	continent, ok := t.byCountry[foldKey(country)]
	return continent, ok
}

// A Caser carries internal state, so each lookup gets its own.
func foldKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
