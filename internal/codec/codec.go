// Package codec maps domain models to and from stored tree nodes.
//
// Decoding is strict per entry: a node missing a required field, or holding
// a field of the wrong type, fails with an *errs.DecodeError naming that
// field. Collections are lenient: DecodeList drops failing entries one by
// one and keeps the rest.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eldtechnologies/chatsync/internal/errs"
	"github.com/eldtechnologies/chatsync/internal/tree"
)

// LegacyDateLayout is the en_US "medium date, long time" rendering the
// first mobile client wrote, without its trailing zone. It is accepted on
// read, never written.
const LegacyDateLayout = "Jan 2, 2006 at 3:04:05 PM"

// legacySpaces maps the narrow and non-breaking spaces newer clients put
// before AM/PM to plain spaces.
var legacySpaces = strings.NewReplacer("\u202f", " ", "\u00a0", " ")

var validate = NewValidator()

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FormatTime encodes a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime decodes a stored timestamp in either the current or the legacy
// format. Legacy zones must be UTC, GMT or a GMT/UTC offset such as
// "GMT+5:30"; other abbreviations are ambiguous and rejected. A legacy
// timestamp with no zone is read as UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}

	s = strings.TrimSpace(legacySpaces.Replace(s))
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	base, zone := s[:i], s[i+1:]
	if zone == "AM" || zone == "PM" {
		return time.ParseInLocation(LegacyDateLayout, s, time.UTC)
	}
	loc, err := legacyZone(zone)
	if err != nil {
		return time.Time{}, err
	}
	return time.ParseInLocation(LegacyDateLayout, base, loc)
}

func legacyZone(zone string) (*time.Location, error) {
	switch zone {
	case "UTC", "GMT", "Z":
		return time.UTC, nil
	}
	for _, prefix := range []string{"GMT", "UTC"} {
		if off, ok := strings.CutPrefix(zone, prefix); ok {
			secs, err := parseOffset(off)
			if err != nil {
				return nil, fmt.Errorf("bad zone offset %q: %w", zone, err)
			}
			return time.FixedZone(zone, secs), nil
		}
	}
	return nil, fmt.Errorf("ambiguous time zone %q", zone)
}

// parseOffset parses "+5", "-05", "+5:30" or "+0530" into seconds east of UTC.
func parseOffset(off string) (int, error) {
	if len(off) < 2 || (off[0] != '+' && off[0] != '-') {
		return 0, errors.New("missing sign")
	}
	sign := 1
	if off[0] == '-' {
		sign = -1
	}

	hs, ms, hasColon := strings.Cut(off[1:], ":")
	if !hasColon && len(hs) == 4 {
		hs, ms = hs[:2], hs[2:]
	}
	h, err := strconv.Atoi(hs)
	if err != nil || len(hs) > 2 || h > 14 {
		return 0, errors.New("bad hours")
	}
	m := 0
	if ms != "" {
		m, err = strconv.Atoi(ms)
		if err != nil || len(ms) != 2 || m > 59 {
			return 0, errors.New("bad minutes")
		}
	}
	return sign * (h*3600 + m*60), nil
}

// Dropped describes a collection entry skipped during lenient decoding.
type Dropped struct {
	Index int
	Err   error
}

// DecodeList decodes every entry of a list node with fn. Entries that fail
// are reported in dropped and left out of the result. An absent node is an
// empty list. A node that is not a list at all is a DecodeError.
func DecodeList[T any](collection string, node tree.Node, fn func(tree.Node) (T, error)) ([]T, []Dropped, error) {
	entries, err := listEntries(collection, node)
	if err != nil {
		return nil, nil, err
	}

	out := make([]T, 0, len(entries))
	var dropped []Dropped
	for i, entry := range entries {
		v, err := fn(entry)
		if err != nil {
			dropped = append(dropped, Dropped{Index: i, Err: err})
			continue
		}
		out = append(out, v)
	}
	return out, dropped, nil
}

// listEntries accepts a list, or a map keyed by array indexes as some tree
// stores return for sparse lists.
func listEntries(collection string, node tree.Node) ([]tree.Node, error) {
	switch v := node.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		idx := make([]int, 0, len(v))
		for k := range v {
			i, err := strconv.Atoi(k)
			if err != nil {
				return nil, &errs.DecodeError{Field: collection, Reason: "not a list"}
			}
			idx = append(idx, i)
		}
		sort.Ints(idx)
		out := make([]tree.Node, 0, len(idx))
		for _, i := range idx {
			out = append(out, v[strconv.Itoa(i)])
		}
		return out, nil
	default:
		return nil, &errs.DecodeError{Field: collection, Reason: "not a list"}
	}
}

// strict decodes node into dst and validates required fields.
func strict(node tree.Node, dst any) error {
	if _, ok := node.(map[string]any); !ok {
		return &errs.DecodeError{Field: ".", Reason: "not an object"}
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return &errs.DecodeError{Field: ".", Reason: err.Error()}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &errs.DecodeError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		return &errs.DecodeError{Field: ".", Reason: err.Error()}
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &errs.DecodeError{Field: fieldPath(verrs[0].Namespace()), Reason: "missing " + verrs[0].Tag() + " value"}
		}
		return &errs.DecodeError{Field: ".", Reason: err.Error()}
	}
	return nil
}

// fieldPath drops the Go struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func parseTimeField(field, s string) (time.Time, error) {
	t, err := ParseTime(s)
	if err != nil {
		return time.Time{}, &errs.DecodeError{Field: field, Reason: "unparseable timestamp"}
	}
	return t, nil
}
