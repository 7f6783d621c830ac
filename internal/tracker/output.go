package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

type Output string

const (
	OutputText Output = "text"
	OutputJSON Output = "json"
)

type cliError struct {
	status  int
	message string
	rawJSON []byte
}

func (e *cliError) Error() string {
	return e.message
}

func isValidOutput(v string) bool {
	return v == string(OutputText) || v == string(OutputJSON)
}

func FormatError(output Output, status int, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = http.StatusText(status)
	}

	if output == OutputJSON {
		payload := map[string]any{
			"status": status,
			"error":  msg,
		}
		raw, _ := json.Marshal(payload)
		return string(raw)
	}

	return fmt.Sprintf("error (%d): %s", status, msg)
}

func handleResponse(output Output, stdout io.Writer, resp *http.Response, reqErr error) error {
	if reqErr != nil {
		return &cliError{status: http.StatusBadGateway, message: reqErr.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &cliError{status: http.StatusInternalServerError, message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(extractErrorMessage(raw))
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		if output == OutputJSON && json.Valid(raw) {
			return &cliError{status: resp.StatusCode, message: msg, rawJSON: compactJSON(raw)}
		}
		return &cliError{status: resp.StatusCode, message: msg}
	}

	if output == OutputJSON {
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "" {
			_, _ = fmt.Fprintln(stdout, "{}")
			return nil
		}
		if json.Valid(raw) {
			_, _ = fmt.Fprintln(stdout, string(compactJSON(raw)))
			return nil
		}

		encoded, _ := json.Marshal(map[string]any{"result": trimmed})
		_, _ = fmt.Fprintln(stdout, string(encoded))
		return nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		_, _ = fmt.Fprintln(stdout, "ok")
		return nil
	}

	_, _ = fmt.Fprintln(stdout, trimmed)
	return nil
}

func extractErrorMessage(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}

	if value, ok := obj["detail"].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	if value, ok := obj["title"].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	if value, ok := obj["error"].(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return ""
}

func compactJSON(raw []byte) []byte {
	var out bytes.Buffer
	if err := json.Compact(&out, raw); err != nil {
		return raw
	}
	return out.Bytes()
}

func asCLIError(err error, target **cliError) bool {
	return errors.As(err, target)
}

// FormatWatchLine renders one live event. Text output keeps the fields
// a reader scans for: event type, project, entity and entry.
func FormatWatchLine(output Output, event map[string]any) (string, error) {
	if output == OutputJSON {
		raw, err := json.Marshal(event)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	parts := make([]string, 0, 5)
	for _, key := range []string{"type", "project_id", "kind", "entity_id", "entry_id"} {
		value, ok := event[key]
		if !ok || fmt.Sprintf("%v", value) == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}
	if diff, ok := event["diff"].(map[string]any); ok && len(diff) > 0 {
		keys := make([]string, 0, len(diff))
		for key := range diff {
			keys = append(keys, key)
		}
		slices.Sort(keys)
		parts = append(parts, "changed="+strings.Join(keys, ","))
	}
	if len(parts) == 0 {
		return "(event)", nil
	}

	return strings.Join(parts, " "), nil
}

var primerTemplates = [][2]string{
	{"create_project", `tracker --output json project create --slug "$SLUG" --name "$NAME"`},
	{"create_user", `tracker --output json user create --username "$USERNAME" --email "$EMAIL"`},
	{"add_member", `tracker --output json project add-member -p "$PROJECT" --user "$USER_ID"`},
	{"create_entity", `tracker --output json --as "$USER_ID" entity create -p "$PROJECT" -k "$KIND" --set subject="$SUBJECT"`},
	{"get_entity", `tracker --output json entity get -p "$PROJECT" -k "$KIND" -i "$ID"`},
	{"update_entity", `tracker --output json --as "$USER_ID" entity update -p "$PROJECT" -k "$KIND" -i "$ID" --version "$VERSION" --set "$FIELD=$VALUE"`},
	{"comment_entity", `tracker --output json --as "$USER_ID" entity update -p "$PROJECT" -k "$KIND" -i "$ID" --version "$VERSION" -c "$COMMENT"`},
	{"delete_entity", `tracker --output json entity delete -p "$PROJECT" -k "$KIND" -i "$ID" --version "$VERSION"`},
	{"history", `tracker --output json history -p "$PROJECT" -k "$KIND" -i "$ID" [--squashed]`},
	{"set_policy", `tracker --output json policy set -p "$PROJECT" --user "$USER_ID" --level all|involved|none`},
	{"create_webhook", `tracker --output json webhook create -p "$PROJECT" --name "$NAME" --url "$URL" --key "$KEY"`},
	{"webhook_logs", `tracker --output json webhook logs "$WEBHOOK_ID"`},
	{"watch_events", `tracker --output json [--as "$USER_ID"] watch -p "$PROJECT"`},
}

var primerRules = []string{
	"Prefer `--output json` for any command whose output will be parsed.",
	"Updates and deletes need the current `version`; read it with `entity get` first.",
	"A stale version fails with status 409; re-read and retry.",
	"Every change appends one history entry; entries without changes or comment are hidden.",
	"Owners, assignees, watchers and mentioned users must be project members.",
	"`--as` sets the acting user recorded as the entry author.",
	"`watch` is long-running and must be explicitly stopped by the caller.",
}

func printPrimer(output Output, stdout io.Writer) error {
	if output == OutputJSON {
		templates := make(map[string]string, len(primerTemplates))
		for _, t := range primerTemplates {
			templates[t[0]] = t[1]
		}
		payload := map[string]any{
			"name":              "tracker",
			"purpose":           "Change tracking with history, notifications and webhooks.",
			"kinds":             []string{"epic", "userstory", "task", "issue", "wikipage", "milestone", "relateduserstory"},
			"notify_levels":     []string{"all", "involved", "none"},
			"execution_rules":   primerRules,
			"command_templates": templates,
			"error_shape": map[string]any{
				"backend_problem_json": map[string]any{"title": "Conflict", "status": 409, "detail": "version 1 is stale, current version is 2"},
				"cli_fallback_json":    map[string]any{"status": 502, "error": "gateway or CLI processing error"},
			},
			"watch_event_shape": map[string]any{
				"type":       "entity.changed",
				"project_id": 1,
				"kind":       "task",
				"entity_id":  1,
				"entry_id":   "3f2b8c1e-9a4d-4e7b-8c21-5d6f7a8b9c0d",
				"diff":       map[string]any{"status": []any{"New", "Done"}},
			},
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(stdout, string(raw))
		return nil
	}

	lines := []string{"TRACKER PRIMER", "", "EXECUTION RULES"}
	for i, rule := range primerRules {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, rule))
	}
	lines = append(lines, "", "COMMAND TEMPLATES")
	for _, t := range primerTemplates {
		lines = append(lines, strings.ToUpper(t[0])+": "+t[1])
	}
	_, _ = fmt.Fprintln(stdout, strings.Join(lines, "\n"))
	return nil
}
