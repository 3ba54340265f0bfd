package event

import (
	"reflect"
	"slices"
)

// Extractor turns an owner into listener bindings.
// It must fail as a whole when any declared listener is invalid.
type Extractor interface {
	Extract(owner any) ([]Binding, error)
}

// ExtractorFunc adapts a func to Extractor
type ExtractorFunc func(owner any) ([]Binding, error)

// Extract calls f
func (f ExtractorFunc) Extract(owner any) ([]Binding, error) {
	return f(owner)
}

// TargetExtractor reads TargetProvider declarations and Funcs groups
type TargetExtractor struct{}

// Extract implements Extractor
func (TargetExtractor) Extract(owner any) ([]Binding, error) {
	if owner == nil {
		return nil, ErrInvalidListener.WithMsgf("owner is nil")
	}
	if !hashable(owner) {
		return nil, ErrInvalidListener.WithMsgf("owner %T cannot be used as a map key", owner)
	}

	switch o := owner.(type) {
	case *Funcs:
		return extractFuncs(o)
	case TargetProvider:
		return extractMethods(owner, o.EventTargets())
	default:
		return nil, ErrInvalidListener.WithMsgf("owner %T declares no event targets", owner)
	}
}

func extractMethods(owner any, targets []Target) ([]Binding, error) {
	v := reflect.ValueOf(owner)
	var bindings []Binding
	seen := make(map[string]bool, len(targets))

	for _, t := range targets {
		if seen[t.Method] {
			return nil, ErrInvalidListener.WithMsgf("%T declares %s twice", owner, t.Method)
		}
		seen[t.Method] = true

		m := v.MethodByName(t.Method)
		if !m.IsValid() {
			return nil, ErrInvalidListener.WithMsgf("%T has no exported method %s", owner, t.Method)
		}
		c, err := newReflectCallable(t.Method, m)
		if err != nil {
			return nil, err
		}
		b, err := bind(InstanceOwner(owner), c, t)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b...)
	}
	return bindings, nil
}

func extractFuncs(f *Funcs) ([]Binding, error) {
	var bindings []Binding
	seen := make(map[string]bool, len(f.entries))

	for _, entry := range f.entries {
		t := entry.target
		if seen[t.Method] {
			return nil, ErrInvalidListener.WithMsgf("group %s declares %s twice", f.name, t.Method)
		}
		seen[t.Method] = true

		var c Callable
		switch {
		case entry.native != nil:
			c = *entry.native
			if c.native == nil {
				return nil, ErrInvalidListener.WithMsgf("listener %s is nil", t.Method)
			}
			if p := c.params[1]; !isEventType(p) {
				return nil, ErrInvalidListener.WithMsgf("listener %s parameter %s is not an event type", t.Method, p)
			}
		default:
			var err error
			if c, err = NewCallable(t.Method, entry.fn); err != nil {
				return nil, err
			}
		}

		b, err := bind(NoOwner(), c, t)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, b...)
	}
	return bindings, nil
}

// bind emits one binding per event type the callable listens to: its event
// parameters plus the Also list
func bind(owner Owner, c Callable, t Target) ([]Binding, error) {
	if t.Priority < PriorityLowest || t.Priority > PriorityHighest {
		return nil, ErrInvalidListener.WithMsgf("listener %s has priority %d out of range", c.key, t.Priority)
	}
	if t.Filter > SubTypePost {
		return nil, ErrInvalidListener.WithMsgf("listener %s has unknown sub-type filter %d", c.key, t.Filter)
	}

	types := c.EventParams()
	for _, extra := range t.Also {
		if extra == nil || !isEventType(extra) {
			return nil, ErrInvalidListener.WithMsgf("listener %s: %v is not an event type", c.key, extra)
		}
		if !slices.Contains(types, extra) {
			types = append(types, extra)
		}
	}
	if len(types) == 0 {
		return nil, ErrInvalidListener.WithMsgf("listener %s declares no event type", c.key)
	}

	d := Descriptor{
		Owner:           owner,
		Callable:        c,
		Priority:        t.Priority,
		SkipIfCancelled: t.SkipCancelled,
		TypeFilter:      t.Filter,
		ExtraTargets:    slices.Clone(t.Also),
	}
	bindings := make([]Binding, len(types))
	for i, et := range types {
		bindings[i] = Binding{EventType: et, Descriptor: d}
	}
	return bindings, nil
}
