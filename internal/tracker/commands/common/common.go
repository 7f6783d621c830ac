package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"
)

type Runtime interface {
	ServerURL() string
	Output() string
	// UserID is the acting user sent as X-User-Id. Zero sends none.
	UserID() int64
}

type HandleResponseFunc func(output string, stdout io.Writer, resp *http.Response, reqErr error) error

type WrapErrorFunc func(status int, message string) error

// Client issues requests against the tracker HTTP API. Parameters are
// styled with the same rules the OpenAPI description declares: simple
// style for path segments and exploded form style for queries.
type Client struct {
	server string
	http   *http.Client
	userID int64
}

func NewClient(rt Runtime) (*Client, error) {
	server := strings.TrimSpace(rt.ServerURL())
	parsed, err := url.Parse(server)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("server url must start with http:// or https://")
	}
	return &Client{
		server: strings.TrimSuffix(server, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		userID: rt.UserID(),
	}, nil
}

// Param is one named path or query value.
type Param struct {
	Name  string
	Value any
}

func P(name string, value any) Param {
	return Param{Name: name, Value: value}
}

// Path fills the {name} slots of template with styled path parameters.
func Path(template string, params ...Param) (string, error) {
	out := template
	for _, p := range params {
		styled, err := runtime.StyleParamWithLocation("simple", false, p.Name, runtime.ParamLocationPath, p.Value)
		if err != nil {
			return "", fmt.Errorf("path parameter %s: %w", p.Name, err)
		}
		slot := "{" + p.Name + "}"
		if !strings.Contains(out, slot) {
			return "", fmt.Errorf("path %s has no parameter %s", template, p.Name)
		}
		out = strings.ReplaceAll(out, slot, styled)
	}
	return out, nil
}

// Query encodes params as form-style query values. Nil values are
// skipped.
func Query(params ...Param) (url.Values, error) {
	values := url.Values{}
	for _, p := range params {
		if p.Value == nil {
			continue
		}
		styled, err := runtime.StyleParamWithLocation("form", true, p.Name, runtime.ParamLocationQuery, p.Value)
		if err != nil {
			return nil, fmt.Errorf("query parameter %s: %w", p.Name, err)
		}
		parsed, err := url.ParseQuery(styled)
		if err != nil {
			return nil, fmt.Errorf("query parameter %s: %w", p.Name, err)
		}
		for k, vs := range parsed {
			for _, v := range vs {
				values.Add(k, v)
			}
		}
	}
	return values, nil
}

// Do sends body as JSON when it is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	target := c.server + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.userID > 0 {
		req.Header.Set("X-User-Id", strconv.FormatInt(c.userID, 10))
	}
	return c.http.Do(req)
}
