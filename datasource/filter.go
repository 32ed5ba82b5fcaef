package datasource

import (
	"log"
	"strings"
)

// Filter maps a criteria key to the set of accepted values
type Filter map[string][]string

// ParseFilter parses "key:v1|v2,key2:v" criteria.
// Segments without a key or value are skipped with a warning.
func ParseFilter(raw string) Filter {
	f := Filter{}
	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		key, value, ok := strings.Cut(segment, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			log.Printf("⚠️  Ignoring malformed filter segment %q", segment)
			continue
		}

		for _, v := range strings.Split(value, "|") {
			if v = strings.TrimSpace(v); v != "" {
				f[key] = append(f[key], v)
			}
		}
	}
	return f
}

// First returns the first value for key, or ""
func (f Filter) First(key string) string {
	if values := f[key]; len(values) > 0 {
		return values[0]
	}
	return ""
}

// warnUnknown logs every key not in known; unknown keys never fail a fetch
func (f Filter) warnUnknown(category Category, known ...string) []string {
	var unknown []string
	for key := range f {
		recognised := false
		for _, k := range known {
			if k == key {
				recognised = true
				break
			}
		}
		if !recognised {
			log.Printf("⚠️  Unknown filter key %q ignored for %s", key, category)
			unknown = append(unknown, key)
		}
	}
	return unknown
}
