package config

import (
	"reflect"
	"strings"
)

// Diff lists the top-level sections whose typed content differs between two
// snapshots, named by their YAML keys.
type Diff struct {
	Sections []string
}

func (d Diff) Empty() bool {
	return len(d.Sections) == 0
}

func (d Diff) Has(section string) bool {
	for _, s := range d.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Compare diffs two snapshots section by section. Formatting, comments and
// key order never show up here because both sides are decoded values.
func Compare(old, new *Config) Diff {
	var d Diff
	if old == nil || new == nil {
		if old != new {
			d.Sections = allSections()
		}
		return d
	}

	ov := reflect.ValueOf(old).Elem()
	nv := reflect.ValueOf(new).Elem()
	t := ov.Type()

	for i := 0; i < t.NumField(); i++ {
		if !equalValues(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			d.Sections = append(d.Sections, sectionName(t.Field(i)))
		}
	}
	return d
}

// Equal reports whether two snapshots are semantically identical.
func Equal(old, new *Config) bool {
	return Compare(old, new).Empty()
}

// RemovedEntities returns ids present in old but not in new.
func RemovedEntities(old, new []string) []string {
	keep := make(map[string]bool, len(new))
	for _, id := range new {
		keep[id] = true
	}
	var removed []string
	for _, id := range old {
		if !keep[id] {
			removed = append(removed, id)
		}
	}
	return removed
}

func equalValues(a, b any) bool {
	// nil and empty collections decode interchangeably from YAML.
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if (av.Kind() == reflect.Slice || av.Kind() == reflect.Map) && av.Len() == 0 && bv.Len() == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func sectionName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" {
		return strings.ToLower(f.Name)
	}
	return name
}

func allSections() []string {
	t := reflect.TypeOf(Config{})
	sections := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sections = append(sections, sectionName(t.Field(i)))
	}
	return sections
}
