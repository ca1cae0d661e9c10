package config

import (
	"fmt"
	"sort"
	"strings"
)

// mapFlags are generic string key-value pair flags.
// Use when option keys are not predetermined.
type mapFlags struct {
	values map[string]string
}

func newMapFlags() *mapFlags {
	return &mapFlags{values: make(map[string]string)}
}

func (m mapFlags) String() string {
	var pairs []string
	for k, v := range m.values {
		pairs = append(pairs, fmt.Sprint(k, "=", v))
	}

	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (m *mapFlags) Set(value string) error {
	if m == nil {
		return nil
	}

	m.values = make(map[string]string)
	for _, vi := range strings.Split(value, ",") {
		kv := strings.SplitN(vi, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid map key-value pair, expected format key=value but got: '%s'", vi)
		}

		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			return fmt.Errorf("invalid map key-value pair, expected format key=value but got: '%s'", vi)
		}

		m.values[k] = v
	}

	return nil
}

func (m *mapFlags) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var values = make(map[string]string)
	if err := unmarshal(&values); err != nil {
		return err
	}

	m.values = values
	return nil
}
