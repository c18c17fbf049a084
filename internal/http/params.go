package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func pathID(r *http.Request, name string) (string, bool) {
	id := strings.TrimSpace(r.PathValue(name))
	return id, id != ""
}

// queryParser collects per-field parse failures so a handler can report
// them all at once.
type queryParser struct {
	values url.Values
	errors map[string]string
}

func newQueryParser(r *http.Request) *queryParser {
	return &queryParser{values: r.URL.Query()}
}

func (p *queryParser) fail(field, message string) {
	if p.errors == nil {
		p.errors = make(map[string]string)
	}
	p.errors[field] = message
}

func (p *queryParser) String(key string) string {
	return strings.TrimSpace(p.values.Get(key))
}

func (p *queryParser) Int(key string) int {
	raw := p.String(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(key, "整数で指定してください。")
		return 0
	}
	return value
}

func (p *queryParser) Time(key string) *time.Time {
	raw := p.String(key)
	if raw == "" {
		return nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		p.fail(key, invalidTimeMessage)
		return nil
	}
	return &value
}

func (p *queryParser) Errors() map[string]string {
	return p.errors
}

func parseOptionalTime(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func parseTime(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, strings.TrimSpace(raw))
}

const invalidTimeMessage = "RFC3339 形式の日時で指定してください。"
