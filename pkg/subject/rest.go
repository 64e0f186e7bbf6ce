package subject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dshills/decisionflow/pkg/value"
)

// CredentialGetter resolves a stored secret by key.
type CredentialGetter interface {
	Get(key string) (string, error)
}

// RESTConfig configures a RESTProvider.
type RESTConfig struct {
	// BaseURL is the tracker's site URL, e.g. https://example.atlassian.net.
	BaseURL string
	// CredentialKey names the API token in Credentials.
	CredentialKey string
	Credentials   CredentialGetter
	Timeout       time.Duration
}

// RESTProvider reads and writes issues through an issue tracker's REST v3
// API. Subject IDs are issue keys.
type RESTProvider struct {
	baseURL       string
	credentialKey string
	credentials   CredentialGetter
	httpClient    *http.Client
}

// NewRESTProvider creates a provider for the given config.
func NewRESTProvider(config RESTConfig) (*RESTProvider, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &RESTProvider{
		baseURL:       strings.TrimRight(config.BaseURL, "/"),
		credentialKey: config.CredentialKey,
		credentials:   config.Credentials,
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *RESTProvider) ReadField(ctx context.Context, subjectID, fieldKey string) (value.Value, error) {
	if err := validFieldKey(fieldKey); err != nil {
		return value.Null(), err
	}
	top := strings.SplitN(fieldKey, ".", 2)[0]
	query := url.Values{"fields": []string{top}}

	body, err := p.do(ctx, http.MethodGet, p.issueURL(subjectID)+"?"+query.Encode(), nil)
	if err != nil {
		return value.Null(), err
	}
	return FromResult(gjson.GetBytes(body, "fields."+fieldKey)), nil
}

func (p *RESTProvider) WriteField(ctx context.Context, subjectID, fieldKey string, v value.Value) error {
	rec := NewRecord(subjectID, nil)
	if err := rec.Write(fieldKey, v); err != nil {
		return err
	}
	_, err := p.do(ctx, http.MethodPut, p.issueURL(subjectID), map[string]interface{}{
		"fields": rec.Fields,
	})
	return err
}

func (p *RESTProvider) AddLabel(ctx context.Context, subjectID, label string) error {
	_, err := p.do(ctx, http.MethodPut, p.issueURL(subjectID), map[string]interface{}{
		"update": map[string]interface{}{
			"labels": []map[string]string{{"add": label}},
		},
	})
	return err
}

func (p *RESTProvider) AddComment(ctx context.Context, subjectID string, body RichText) (interface{}, error) {
	respBody, err := p.do(ctx, http.MethodPost, p.issueURL(subjectID)+"/comment", map[string]interface{}{
		"body": body,
	})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}
	var resp interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}
	return resp, nil
}

func (p *RESTProvider) issueURL(subjectID string) string {
	return p.baseURL + "/rest/api/3/issue/" + url.PathEscape(subjectID)
}

func (p *RESTProvider) do(ctx context.Context, method, target string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.credentials != nil && p.credentialKey != "" {
		token, err := p.credentials.Get(p.credentialKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load credential %q: %w", p.credentialKey, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, target)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%s %s: HTTP %d: %s", method, target, resp.StatusCode, errorMessage(body))
	}
	return body, nil
}

// errorMessage extracts the tracker's error text from a failure body.
func errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		var msgs []string
		gjson.GetBytes(body, "errorMessages").ForEach(func(_, m gjson.Result) bool {
			msgs = append(msgs, m.String())
			return true
		})
		gjson.GetBytes(body, "errors").ForEach(func(k, m gjson.Result) bool {
			msgs = append(msgs, k.String()+": "+m.String())
			return true
		})
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		return "no response body"
	}
	return text
}
