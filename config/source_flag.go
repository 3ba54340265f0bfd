package config

import (
	"fmt"
	"reflect"
	"strings"
)

// FlagSource maps command line flag values onto config keys through
// `config` struct tags:
//
//	type Flags struct {
//	    PoolSize int  `config:"event.pool_size"`
//	    Metrics  bool `config:"event.metrics,telemetry.enabled"`
//	}
//
// Zero-valued fields are skipped so they never shadow a lower layer.
type FlagSource struct {
	flags    any
	priority int
}

// NewFlagSource creates a flag source from a struct or pointer to struct
func NewFlagSource(flags any, priority int) *FlagSource {
	return &FlagSource{
		flags:    flags,
		priority: priority,
	}
}

// Name of the source
func (s *FlagSource) Name() string {
	return "flags"
}

// Priority of the source
func (s *FlagSource) Priority() int {
	return s.priority
}

// Load reads the tagged fields
func (s *FlagSource) Load() (map[string]any, error) {
	result := make(map[string]any)
	if s.flags == nil {
		return result, nil
	}

	v := reflect.ValueOf(s.flags)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return result, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("flags must be a struct or pointer to struct, got %T", s.flags)
	}

	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("config")
		if !field.CanInterface() || tag == "" || field.IsZero() {
			continue
		}

		for _, key := range strings.Split(tag, ",") {
			key = strings.TrimSpace(key)
			if key == "" || key == "-" {
				continue
			}
			result[key] = field.Interface()
		}
	}
	return result, nil
}
