package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/simonjohansson/tracker/internal/history"
	"github.com/simonjohansson/tracker/internal/model"
)

// DateLayout is the format of the payload date field, always in UTC.
const DateLayout = "2006-01-02T15:04:05-0700"

type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// SystemAuthor stands in for entries without an author.
var SystemAuthor = Author{ID: 0, Username: "system", FullName: "System"}

type Change struct {
	Comment string           `json:"comment"`
	Diff    model.ValuesDiff `json:"diff"`
}

type Payload struct {
	Action string  `json:"action"`
	Type   string  `json:"type"`
	By     Author  `json:"by"`
	Date   string  `json:"date"`
	Data   any     `json:"data"`
	Change *Change `json:"change,omitempty"`
}

// BuildPayload describes entry for webhook consumers. Data is the
// snapshot the entry recorded; change is only set on change entries.
func BuildPayload(entry model.HistoryEntry, author *model.User) Payload {
	by := SystemAuthor
	if author != nil {
		by = Author{ID: author.ID, Username: author.Username, FullName: author.FullName}
	}
	data := map[string]any(entry.Snapshot)
	if data == nil {
		data = map[string]any{}
	}
	p := Payload{
		Action: string(entry.Type),
		Type:   string(entry.Kind),
		By:     by,
		Date:   entry.CreatedAt.UTC().Format(DateLayout),
		Data:   data,
	}
	if entry.Type == model.HistoryChange {
		p.Change = &Change{Comment: entry.Comment, Diff: history.PublicDiff(entry.ValuesDiff)}
	}
	return p
}

// TestPayload is sent by the test endpoint of a webhook.
func TestPayload(at time.Time, author *model.User) Payload {
	by := SystemAuthor
	if author != nil {
		by = Author{ID: author.ID, Username: author.Username, FullName: author.FullName}
	}
	return Payload{
		Action: "test",
		Type:   "test",
		By:     by,
		Date:   at.UTC().Format(DateLayout),
		Data:   map[string]any{"test": "test"},
	}
}

// Encode serializes p once; the bytes are what gets signed and sent.
func Encode(p Payload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode webhook payload: %w", err)
	}
	return body, nil
}
