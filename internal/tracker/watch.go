package tracker

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// BuildWebsocketURL derives the live notification endpoint from the API
// base URL. A positive user limits events to that user's deliveries.
func BuildWebsocketURL(serverURL string, project string, user int64) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(serverURL))
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid server url")
	}

	wsScheme := "ws"
	if parsed.Scheme == "https" {
		wsScheme = "wss"
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("server url must start with http:// or https://")
	}

	wsURL := &url.URL{
		Scheme: wsScheme,
		Host:   parsed.Host,
		Path:   strings.TrimSuffix(parsed.Path, "/") + "/ws",
	}

	q := wsURL.Query()
	if value := strings.TrimSpace(project); value != "" {
		q.Set("project", value)
	}
	if user > 0 {
		q.Set("user", strconv.FormatInt(user, 10))
	}
	wsURL.RawQuery = q.Encode()

	return wsURL.String(), nil
}
