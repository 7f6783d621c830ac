package notify

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
)

// Message is a composed email. It is frozen into the outbox as JSON and
// sent later by a Mailer.
type Message struct {
	ProjectID  int64  `json:"project_id"`
	EntryID    string `json:"entry_id"`
	To         string `json:"to"`
	ToName     string `json:"to_name"`
	Subject    string `json:"subject"`
	MessageID  string `json:"message_id"`
	InReplyTo  string `json:"in_reply_to"`
	References string `json:"references"`
	ListID     string `json:"list_id"`
	Body       string `json:"body"`
}

var bodyTemplate = template.Must(template.New("body").Parse(
	`{{.Author}} {{.Action}} {{.Label}} #{{.Ref}} "{{.Title}}" in {{.Project}}.
{{- if .Comment}}

Comment:
{{.Comment}}
{{- end}}
{{- if .Changes}}

Changes:
{{- range .Changes}}
  * {{.Field}}: {{.Summary}}
{{- end}}
{{- end}}
`))

type change struct {
	Field   string
	Summary string
}

type bodyData struct {
	Author  string
	Action  string
	Label   string
	Ref     int64
	Title   string
	Project string
	Comment string
	Changes []change
}

// Mail is everything Compose needs about one entry.
type Mail struct {
	Project    model.Project
	Descriptor history.Descriptor
	Entity     model.Entity
	Entry      model.HistoryEntry
	Author     *model.User
}

type Composer struct {
	domain string
}

func NewComposer(domain string) *Composer {
	if domain == "" {
		domain = "localhost"
	}
	return &Composer{domain: domain}
}

// Subject is "[slug] Label #ref title", prefixed with Created or
// Deleted for those entry types.
func (c *Composer) Subject(m Mail) string {
	var prefix string
	switch m.Entry.Type {
	case model.HistoryCreate:
		prefix = "Created "
	case model.HistoryDelete:
		prefix = "Deleted "
	}
	subject := fmt.Sprintf("[%s] %s%s #%d", m.Project.Slug, prefix, m.Descriptor.Label, m.Entity.Ref)
	if title := titleOf(m); title != "" {
		subject += " " + title
	}
	return subject
}

// ThreadID identifies the mail thread of one entity.
func (c *Composer) ThreadID(m Mail) string {
	return fmt.Sprintf("<%s/%d@%s>", m.Project.Slug, m.Entity.Ref, c.domain)
}

func (c *Composer) Compose(m Mail, to model.User) (Message, error) {
	body, err := c.Body(m)
	if err != nil {
		return Message{}, err
	}
	thread := c.ThreadID(m)
	return Message{
		ProjectID:  m.Project.ID,
		EntryID:    m.Entry.ID,
		To:         to.Email,
		ToName:     to.FullName,
		Subject:    c.Subject(m),
		MessageID:  fmt.Sprintf("%s/%d/%s@%s", m.Project.Slug, m.Entity.Ref, m.Entry.ID, c.domain),
		InReplyTo:  thread,
		References: thread,
		ListID:     fmt.Sprintf("%s <%s.%s>", m.Project.Name, m.Project.Slug, c.domain),
		Body:       body,
	}, nil
}

// Body renders the squashed diff of the entry as plain text.
func (c *Composer) Body(m Mail) (string, error) {
	squashed, err := history.SquashEntries([]model.HistoryEntry{m.Entry}, false)
	if err != nil {
		squashed = []model.HistoryEntry{m.Entry}
	}
	fields := map[string]any{}
	for _, entry := range squashed {
		for field, value := range history.PublicDiff(entry.ValuesDiff) {
			fields[field] = value
		}
	}
	names := make([]string, 0, len(fields))
	for field := range fields {
		names = append(names, field)
	}
	sort.Strings(names)

	data := bodyData{
		Author:  "System",
		Action:  actionOf(m.Entry),
		Label:   m.Descriptor.Label,
		Ref:     m.Entity.Ref,
		Title:   titleOf(m),
		Project: m.Project.Name,
		Comment: m.Entry.Comment,
	}
	if m.Author != nil {
		data.Author = m.Author.FullName
		if data.Author == "" {
			data.Author = m.Author.Username
		}
	}
	for _, field := range names {
		data.Changes = append(data.Changes, change{Field: field, Summary: summarize(field, fields[field])})
	}

	var b strings.Builder
	if err := bodyTemplate.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render mail body: %w", err)
	}
	return b.String(), nil
}

func actionOf(entry model.HistoryEntry) string {
	switch entry.Type {
	case model.HistoryCreate:
		return "created"
	case model.HistoryDelete:
		return "deleted"
	}
	if entry.HasComment() && len(history.PublicDiff(entry.ValuesDiff)) == 0 {
		return "commented on"
	}
	return "updated"
}

func titleOf(m Mail) string {
	if m.Descriptor.TitleField == "" {
		return ""
	}
	if title, ok := m.Entity.Fields[m.Descriptor.TitleField].(string); ok {
		return title
	}
	return ""
}

func summarize(field string, value any) string {
	if strings.HasSuffix(field, "_diff") {
		return "updated"
	}
	switch v := value.(type) {
	case []any:
		if len(v) == 2 {
			return fmt.Sprintf("%s -> %s", display(v[0]), display(v[1]))
		}
	case map[string]any:
		if _, keyed := v["changed"]; keyed {
			return fmt.Sprintf("%d new, %d changed, %d deleted", count(v["new"]), count(v["changed"]), count(v["deleted"]))
		}
		roles := make([]string, 0, len(v))
		for role := range v {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		parts := make([]string, 0, len(roles))
		for _, role := range roles {
			parts = append(parts, fmt.Sprintf("%s %s", role, summarize(role, v[role])))
		}
		return strings.Join(parts, ", ")
	}
	return display(value)
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "(empty)"
	case string:
		if t == "" {
			return "(empty)"
		}
		return t
	case []any:
		if len(t) == 0 {
			return "(empty)"
		}
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if pair, ok := item.([]any); ok && len(pair) > 0 {
				parts = append(parts, display(pair[0]))
				continue
			}
			parts = append(parts, display(item))
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

func count(v any) int {
	items, _ := v.([]any)
	return len(items)
}
