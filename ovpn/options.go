package ovpn

import (
	"reflect"
	"strconv"
	"strings"
)

// Options is an ordered mapping from key to an optional value list, per
// spec §4.3. A key's entry is either "null" (no value was present on the
// wire) or a list of string values accumulated from repeated
// occurrences of the same key, in occurrence order.
type Options struct {
	order   []string
	entries map[string]*optionEntry
}

type optionEntry struct {
	null   bool
	values []string
}

// NewOptions returns an empty Options value, for building a peer-info
// table programmatically rather than parsing one off the wire.
func NewOptions() *Options {
	return &Options{entries: make(map[string]*optionEntry)}
}

// Add appends a value occurrence for key. Mixing Add and AddNull for the
// same key is a format error.
func (o *Options) Add(key, value string) error {
	if key == "" {
		return newError(ErrKindProtocol, "empty option key")
	}
	e := o.entries[key]
	if e == nil {
		e = &optionEntry{}
		o.entries[key] = e
		o.order = append(o.order, key)
	} else if e.null {
		return newError(ErrKindProtocol, "option %q mixes null and value occurrences", key)
	}
	e.values = append(e.values, value)
	return nil
}

// AddNull records a key-only occurrence (no separator was present).
func (o *Options) AddNull(key string) error {
	if key == "" {
		return newError(ErrKindProtocol, "empty option key")
	}
	e := o.entries[key]
	if e == nil {
		e = &optionEntry{null: true}
		o.entries[key] = e
		o.order = append(o.order, key)
	} else if !e.null {
		return newError(ErrKindProtocol, "option %q mixes null and value occurrences", key)
	}
	return nil
}

// Get returns the accumulated values for key, whether the key is a null
// occurrence, and whether the key is present at all.
func (o *Options) Get(key string) (values []string, null bool, present bool) {
	e, ok := o.entries[key]
	if !ok {
		return nil, false, false
	}
	return e.values, e.null, true
}

// Keys returns every key in first-occurrence order.
func (o *Options) Keys() []string {
	return append([]string(nil), o.order...)
}

// ParseOptions decodes s into an Options value. pairSep separates
// key/value pairs; kvSep separates a key from its value within a pair.
func ParseOptions(s string, pairSep, kvSep byte) (*Options, error) {
	o := NewOptions()
	if s == "" {
		return o, nil
	}
	pairs := strings.Split(s, string(pairSep))
	for _, pair := range pairs {
		idx := strings.IndexByte(pair, kvSep)
		if idx < 0 {
			if pair == "" {
				return nil, newError(ErrKindProtocol, "empty option key")
			}
			if err := o.AddNull(pair); err != nil {
				return nil, err
			}
			continue
		}
		key := pair[:idx]
		value := pair[idx+1:]
		if key == "" {
			return nil, newError(ErrKindProtocol, "empty option key")
		}
		if err := o.Add(key, value); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Stringify encodes o back into wire form, using the same separators
// ParseOptions accepts: each value occurrence is written as its own
// `key kvSep value` pair (a null key as the bare key), joined by pairSep.
func (o *Options) Stringify(pairSep, kvSep byte) string {
	var parts []string
	for _, key := range o.order {
		e := o.entries[key]
		if e.null {
			parts = append(parts, key)
			continue
		}
		for _, v := range e.values {
			parts = append(parts, key+string(kvSep)+v)
		}
	}
	return strings.Join(parts, string(pairSep))
}

// OptionUnmarshaler lets a field type supply its own conversion from a
// raw option string, for enum-like fields such as Topology.
type OptionUnmarshaler interface {
	UnmarshalOption(raw string) error
}

// bindTag is the parsed form of an `ovpn:"..."` struct tag:
// `ovpn:"key"`, `ovpn:"key,required"`, `ovpn:"key,split=comma"` or
// `ovpn:"key,split=space"`.
type bindTag struct {
	key      string
	required bool
	split    byte // 0 = no split
}

func parseBindTag(raw string) (bindTag, bool) {
	if raw == "" || raw == "-" {
		return bindTag{}, false
	}
	parts := strings.Split(raw, ",")
	bt := bindTag{key: parts[0]}
	for _, p := range parts[1:] {
		switch {
		case p == "required":
			bt.required = true
		case p == "split=comma":
			bt.split = ','
		case p == "split=space":
			bt.split = ' '
		}
	}
	return bt, true
}

// Bind maps o onto dest, a pointer to a struct whose fields carry an
// `ovpn:"key[,required][,split=comma|space]"` tag. Keys present in o but
// not claimed by any field are returned as unknown, in occurrence order.
func Bind(o *Options, dest interface{}) (unknown []string, err error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, newError(ErrKindConfig, "Bind destination must be a pointer to a struct")
	}
	v = v.Elem()
	t := v.Type()

	claimed := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		bt, ok := parseBindTag(field.Tag.Get("ovpn"))
		if !ok {
			continue
		}
		claimed[bt.key] = true

		values, null, present := o.Get(bt.key)
		if !present {
			if bt.required {
				return nil, newError(ErrKindConfig, "required option %q missing", bt.key)
			}
			continue
		}
		if err := bindField(v.Field(i), bt, values, null); err != nil {
			return nil, wrapError(ErrKindConfig, err, "option %q", bt.key)
		}
	}

	for _, key := range o.order {
		if !claimed[key] {
			unknown = append(unknown, key)
		}
	}
	return unknown, nil
}

func bindField(fv reflect.Value, bt bindTag, values []string, null bool) error {
	if fv.CanAddr() {
		if u, ok := fv.Addr().Interface().(OptionUnmarshaler); ok {
			raw := ""
			if len(values) > 0 {
				raw = values[0]
			}
			return u.UnmarshalOption(raw)
		}
	}

	switch fv.Kind() {
	case reflect.Bool:
		if null {
			fv.SetBool(true)
			return nil
		}
		raw := ""
		if len(values) > 0 {
			raw = values[0]
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return newError(ErrKindConfig, "invalid bool %q", raw)
		}
		fv.SetBool(b)
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		raw := firstValue(values)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return newError(ErrKindConfig, "invalid integer %q", raw)
		}
		fv.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		raw := firstValue(values)
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return newError(ErrKindConfig, "invalid unsigned integer %q", raw)
		}
		fv.SetUint(n)
		return nil

	case reflect.String:
		fv.SetString(firstValue(values))
		return nil

	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.String {
			return newError(ErrKindConfig, "unsupported slice field type")
		}
		raw := firstValue(values)
		sep := bt.split
		if sep == 0 {
			sep = ','
		}
		var parts []string
		for _, p := range strings.Split(raw, string(sep)) {
			if p != "" {
				parts = append(parts, p)
			}
		}
		fv.Set(reflect.ValueOf(parts))
		return nil

	default:
		return newError(ErrKindConfig, "unsupported field kind %s", fv.Kind())
	}
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
