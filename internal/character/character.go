// Package character projects raw crawler items into comparable character records.
package character

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Missing is rendered in a comparison row when one side lacks the attribute.
const Missing = "—"

// Record is the normalized view of one scraped character.
type Record struct {
	ID          string            `json:"id" validate:"required"`
	Name        string            `json:"name" validate:"required"`
	Image       string            `json:"image" validate:"required,url"`
	Description string            `json:"description" validate:"required"`
	Attributes  map[string]string `json:"attributes" validate:"dive,keys,required,endkeys,required"`
	Serie       string            `json:"serie,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first field that fails the record rules.
func (r Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid character %q: %w", r.Name, err)
	}
	return nil
}

// FromRaw maps one crawler item onto a Record. serie is the category the item
// was found under.
func FromRaw(raw map[string]any, serie string) Record {
	rec := Record{
		ID:          firstString(raw, "source_url", "character_url", "name"),
		Name:        firstString(raw, "name"),
		Image:       firstString(raw, "image_url", "image"),
		Description: firstString(raw, "description"),
		Attributes:  map[string]string{},
		Serie:       serie,
	}
	for _, n := range []string{"1", "2"} {
		name := firstString(raw, "attribute"+n+"_name")
		value := firstString(raw, "attribute"+n+"_value")
		if name != "" && value != "" {
			rec.Attributes[name] = value
		}
		if label, val, ok := splitLabel(firstString(raw, "attribute_"+n)); ok {
			rec.Attributes[label] = val
		}
	}
	if kind := firstString(raw, "character_type", "type_role_class"); kind != "" {
		rec.Attributes["Type"] = kind
	}
	return rec
}

// Items unwraps the shapes a crawler artifact can take: an object with a
// "characters" array, a bare array, or a single object.
func Items(doc any) []map[string]any {
	switch v := doc.(type) {
	case []any:
		return objects(v)
	case map[string]any:
		if list, ok := v["characters"].([]any); ok {
			return objects(list)
		}
		return []map[string]any{v}
	default:
		return nil
	}
}

// Row is one attribute line of a comparison.
type Row struct {
	Attribute string `json:"attribute"`
	Left      string `json:"left"`
	Right     string `json:"right"`
	Same      bool   `json:"same"`
}

// Comparison lines up two records attribute by attribute.
type Comparison struct {
	Left  Record `json:"left"`
	Right Record `json:"right"`
	Rows  []Row  `json:"rows"`
}

// Compare builds the sorted union of both records' attributes.
func Compare(a, b Record) Comparison {
	keys := make(map[string]struct{}, len(a.Attributes)+len(b.Attributes))
	for k := range a.Attributes {
		keys[k] = struct{}{}
	}
	for k := range b.Attributes {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	rows := make([]Row, 0, len(names))
	for _, k := range names {
		left := valueOr(a.Attributes, k)
		right := valueOr(b.Attributes, k)
		rows = append(rows, Row{Attribute: k, Left: left, Right: right, Same: left == right})
	}
	return Comparison{Left: a, Right: b, Rows: rows}
}

func valueOr(attrs map[string]string, key string) string {
	if v, ok := attrs[key]; ok {
		return v
	}
	return Missing
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// splitLabel parses the older "Label: Value" attribute strings.
func splitLabel(s string) (string, string, bool) {
	label, value, ok := strings.Cut(s, ":")
	if !ok {
		return "", "", false
	}
	label, value = strings.TrimSpace(label), strings.TrimSpace(value)
	if label == "" || value == "" {
		return "", "", false
	}
	return label, value, true
}

func objects(list []any) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}
