package history

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/simonjohansson/tracker/internal/model"
)

// Catalog resolves ids referenced from snapshots into display names.
type Catalog interface {
	Username(id int64) (string, bool)
	RoleName(id int64) (string, bool)
	PointsName(id int64) (string, bool)
}

// attachmentNoise lists attachment keys whose churn is not a user edit.
var attachmentNoise = map[string]struct{}{
	"url":       {},
	"thumb_url": {},
	"order":     {},
	"filename":  {},
}

type Differ struct {
	registry *Registry
	renderer MarkupRenderer
}

func NewDiffer(registry *Registry, renderer MarkupRenderer) *Differ {
	return &Differ{registry: registry, renderer: renderer}
}

// Diff computes the values diff between two snapshots of the same
// entity. A nil prev yields an empty diff.
func (d *Differ) Diff(kind model.Kind, prev, curr model.Snapshot, names Catalog) (model.ValuesDiff, error) {
	desc, err := d.registry.Lookup(kind)
	if err != nil {
		return nil, err
	}
	out := model.ValuesDiff{}
	if prev == nil || curr == nil {
		return out, nil
	}

	for _, key := range unionKeys(prev, curr) {
		p, c := prev[key], curr[key]
		switch key {
		case "attachments":
			before, err := attachmentsByID(p)
			if err != nil {
				return nil, err
			}
			after, err := attachmentsByID(c)
			if err != nil {
				return nil, err
			}
			if v, changed := keyedDiff(before, after, attachmentNoise); changed {
				out[key] = v
			}
		case "custom_attributes":
			before, err := customAttributesByID(p)
			if err != nil {
				return nil, err
			}
			after, err := customAttributesByID(c)
			if err != nil {
				return nil, err
			}
			if v, changed := keyedDiff(before, after, nil); changed {
				out[key] = v
			}
		case "points":
			v, err := pointsDiff(p, c, names)
			if err != nil {
				return nil, err
			}
			if len(v) > 0 {
				out[key] = v
			}
		case "assigned_users":
			if reflect.DeepEqual(p, c) {
				continue
			}
			from, err := usernames(p, names)
			if err != nil {
				return nil, err
			}
			to, err := usernames(c, names)
			if err != nil {
				return nil, err
			}
			out[key] = []any{from, to}
		case "assigned_to":
			if desc.Assignees == AssignMulti {
				continue
			}
			if !reflect.DeepEqual(p, c) {
				out[key] = []any{p, c}
			}
		default:
			if !reflect.DeepEqual(p, c) {
				out[key] = []any{p, c}
			}
		}
	}

	for _, field := range desc.Markup {
		if _, changed := out[field]; !changed {
			continue
		}
		before, _ := prev[field+"_html"].(string)
		after, _ := curr[field+"_html"].(string)
		out[field+"_diff"] = []any{nil, d.renderer.Diff(before, after)}
	}
	return out, nil
}

func unionKeys(a, b model.Snapshot) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for _, m := range []model.Snapshot{a, b} {
		for k := range m {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func attachmentsByID(v any) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	if v == nil {
		return out, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: attachments must be a list, got %T", ErrInvalidDiff, v)
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: attachment must be an object, got %T", ErrInvalidDiff, item)
		}
		id, ok := asInt(obj["id"])
		if !ok {
			return nil, fmt.Errorf("%w: attachment without id", ErrInvalidDiff)
		}
		out[strconv.FormatInt(id, 10)] = obj
	}
	return out, nil
}

func customAttributesByID(v any) (map[string]map[string]any, error) {
	out := map[string]map[string]any{}
	if v == nil {
		return out, nil
	}
	values, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: custom_attributes must be an object, got %T", ErrInvalidDiff, v)
	}
	for key, item := range values {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: custom attribute %s must be an object", ErrInvalidDiff, key)
		}
		out[key] = obj
	}
	return out, nil
}

// keyedDiff produces the {new, changed, deleted} shape for collections
// keyed by a stable id. Keys in ignore never count as a change.
func keyedDiff(before, after map[string]map[string]any, ignore map[string]struct{}) (map[string]any, bool) {
	added := []any{}
	changed := []any{}
	deleted := []any{}

	for _, key := range sortedIDKeys(before, after) {
		prev, inPrev := before[key]
		curr, inCurr := after[key]
		switch {
		case inCurr && !inPrev:
			added = append(added, curr)
		case inPrev && !inCurr:
			deleted = append(deleted, prev)
		default:
			from := map[string]any{}
			to := map[string]any{}
			for _, field := range unionKeys(prev, curr) {
				if _, skip := ignore[field]; skip {
					continue
				}
				if !reflect.DeepEqual(prev[field], curr[field]) {
					from[field] = prev[field]
					to[field] = curr[field]
				}
			}
			if len(from) > 0 {
				changed = append(changed, map[string]any{
					"id":   curr["id"],
					"from": from,
					"to":   to,
				})
			}
		}
	}

	if len(added) == 0 && len(changed) == 0 && len(deleted) == 0 {
		return nil, false
	}
	return map[string]any{
		"new":     added,
		"changed": changed,
		"deleted": deleted,
	}, true
}

func sortedIDKeys(a, b map[string]map[string]any) []string {
	seen := map[string]struct{}{}
	keys := []string{}
	for _, m := range []map[string]map[string]any{a, b} {
		for k := range m {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		x, errX := strconv.ParseInt(keys[i], 10, 64)
		y, errY := strconv.ParseInt(keys[j], 10, 64)
		if errX == nil && errY == nil {
			return x < y
		}
		return keys[i] < keys[j]
	})
	return keys
}

func pointsDiff(p, c any, names Catalog) (map[string]any, error) {
	before, err := pointsMap(p)
	if err != nil {
		return nil, err
	}
	after, err := pointsMap(c)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	roles := make([]string, 0, len(before)+len(after))
	for role := range before {
		roles = append(roles, role)
	}
	for role := range after {
		if _, ok := before[role]; !ok {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	for _, role := range roles {
		from, hasFrom := before[role]
		to, hasTo := after[role]
		if hasFrom == hasTo && from == to {
			continue
		}
		out[roleName(role, names)] = []any{pointsName(from, hasFrom, names), pointsName(to, hasTo, names)}
	}
	return out, nil
}

func pointsMap(v any) (map[string]int64, error) {
	out := map[string]int64{}
	if v == nil {
		return out, nil
	}
	values, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: points must be an object, got %T", ErrInvalidDiff, v)
	}
	for role, raw := range values {
		if raw == nil {
			continue
		}
		id, ok := asInt(raw)
		if !ok {
			return nil, fmt.Errorf("%w: points for role %s must be an id", ErrInvalidDiff, role)
		}
		out[role] = id
	}
	return out, nil
}

func roleName(role string, names Catalog) string {
	if names == nil {
		return role
	}
	id, err := strconv.ParseInt(role, 10, 64)
	if err != nil {
		return role
	}
	if name, ok := names.RoleName(id); ok {
		return name
	}
	return role
}

func pointsName(id int64, ok bool, names Catalog) any {
	if !ok {
		return nil
	}
	if names != nil {
		if name, found := names.PointsName(id); found {
			return name
		}
	}
	return strconv.FormatInt(id, 10)
}

// usernames renders an assigned_users value as the sorted, comma
// separated usernames, or nil when nobody is assigned.
func usernames(v any, names Catalog) (any, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: assigned_users must be a list, got %T", ErrInvalidDiff, v)
	}
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(items))
	for _, id := range idsOf(items) {
		name := strconv.FormatInt(id, 10)
		if names != nil {
			if username, ok := names.Username(id); ok {
				name = username
			}
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return strings.Join(out, ", "), nil
}
