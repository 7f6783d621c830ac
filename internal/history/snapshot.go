package history

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/simonjohansson/tracker/internal/model"
)

// MarkupRenderer renders authored text and diffs rendered output.
type MarkupRenderer interface {
	Markdown(src string) string
	Diff(from, to string) string
}

// Builder freezes entities into canonical snapshots.
type Builder struct {
	registry *Registry
	renderer MarkupRenderer
}

func NewBuilder(registry *Registry, renderer MarkupRenderer) *Builder {
	return &Builder{registry: registry, renderer: renderer}
}

func (b *Builder) Registry() *Registry {
	return b.registry
}

func (b *Builder) Build(entity model.Entity) (model.Snapshot, error) {
	d, err := b.registry.Lookup(entity.Kind)
	if err != nil {
		return nil, err
	}

	raw := map[string]any{
		"id":      entity.ID,
		"project": entity.ProjectID,
		"owner":   entity.OwnerID,
	}
	if d.HasRef {
		raw["ref"] = entity.Ref
	}
	for _, field := range d.Scalars {
		raw[field] = entity.Fields[field]
	}
	for _, field := range d.Markup {
		src, _ := entity.Fields[field].(string)
		raw[field] = src
		raw[field+"_html"] = b.renderer.Markdown(src)
	}

	switch d.Assignees {
	case AssignSingle:
		raw["assigned_to"] = firstOrNil(entity.AssignedTo)
	case AssignMulti:
		raw["assigned_to"] = firstOrNil(entity.AssignedTo)
		raw["assigned_users"] = sortedIDs(entity.AssignedTo)
	}
	if d.Tags {
		raw["tags"] = canonicalTags(entity.Tags)
	}
	if d.Watchers {
		raw["watchers"] = sortedIDs(entity.Watchers)
	}
	if d.Attachments {
		raw["attachments"] = canonicalAttachments(entity.Attachments)
	}
	if d.CustomAttributes {
		raw["custom_attributes"] = canonicalCustomAttributes(entity.CustomAttributes)
	}
	if d.Points {
		points := make(map[string]int64, len(entity.Points))
		for role, pts := range entity.Points {
			points[role] = pts
		}
		raw["points"] = points
	}

	return Canonicalize(raw)
}

// Canonicalize round-trips v through JSON so it compares equal to a
// snapshot decoded from storage.
func Canonicalize(v any) (model.Snapshot, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var out model.Snapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return out, nil
}

func firstOrNil(ids []int64) any {
	if len(ids) == 0 {
		return nil
	}
	return ids[0]
}

func sortedIDs(ids []int64) []int64 {
	out := slices.Clone(ids)
	if out == nil {
		out = []int64{}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func canonicalTags(tags []model.Tag) [][]any {
	sorted := slices.Clone(tags)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	out := make([][]any, 0, len(sorted))
	for _, tag := range sorted {
		var color any
		if tag.Color != nil {
			color = *tag.Color
		}
		out = append(out, []any{tag.Name, color})
	}
	return out
}

func canonicalAttachments(attachments []model.Attachment) []map[string]any {
	sorted := slices.Clone(attachments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make([]map[string]any, 0, len(sorted))
	for _, a := range sorted {
		out = append(out, map[string]any{
			"id":            a.ID,
			"name":          a.Name,
			"size":          a.Size,
			"description":   a.Description,
			"is_deprecated": a.IsDeprecated,
			"order":         a.Order,
			"url":           a.URL,
		})
	}
	return out
}

func canonicalCustomAttributes(values map[string]model.CustomAttributeValue) map[string]any {
	out := make(map[string]any, len(values))
	for key, v := range values {
		id := v.ID
		if id == 0 {
			if parsed, err := strconv.ParseInt(key, 10, 64); err == nil {
				id = parsed
			}
		}
		out[strconv.FormatInt(id, 10)] = map[string]any{
			"id":    id,
			"name":  v.Name,
			"value": v.Value,
		}
	}
	return out
}

// AssigneesOf returns the user ids assigned in a snapshot.
func AssigneesOf(s model.Snapshot) []int64 {
	if s == nil {
		return nil
	}
	if users, ok := s["assigned_users"].([]any); ok {
		return idsOf(users)
	}
	if id, ok := asInt(s["assigned_to"]); ok {
		return []int64{id}
	}
	return nil
}

func idsOf(values []any) []int64 {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		if id, ok := asInt(v); ok {
			out = append(out, id)
		}
	}
	return out
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
