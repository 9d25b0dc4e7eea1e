// Package e2e drives a running registry instance over HTTP. The suite
// assumes a clean server and creates all actors it needs per scenario.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

// TestContext carries HTTP state across the steps of one scenario.
type TestContext struct {
	baseURL string
	client  *http.Client

	// per-alias credentials established by registration steps
	tokens   map[string]string
	actorIDs map[string]string
	actingAs string

	lastStatus int
	lastBody   []byte

	// named values saved by steps, for example "certificate_id"
	saved map[string]string
}

// NewTestContext creates a context targeting the registry at baseURL.
func NewTestContext(baseURL string) *TestContext {
	return &TestContext{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears all scenario state. Called before every scenario.
func (tc *TestContext) Reset() {
	tc.tokens = make(map[string]string)
	tc.actorIDs = make(map[string]string)
	tc.actingAs = ""
	tc.lastStatus = 0
	tc.lastBody = nil
	tc.saved = make(map[string]string)
}

// ActAs selects whose bearer token subsequent requests carry.
func (tc *TestContext) ActAs(alias string) error {
	if _, ok := tc.tokens[alias]; !ok {
		return fmt.Errorf("no registered actor %q", alias)
	}
	tc.actingAs = alias
	return nil
}

// POST sends a JSON body and records the response.
func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// GET records the response for a path.
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequest(http.MethodGet, tc.baseURL+path, nil)
	if err != nil {
		return err
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.actingAs != "" {
		req.Header.Set("Authorization", "Bearer "+tc.tokens[tc.actingAs])
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}

// Status returns the last response status code.
func (tc *TestContext) Status() int {
	return tc.lastStatus
}

// Field extracts a top-level field from the last JSON object response.
func (tc *TestContext) Field(name string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("last response is not a JSON object: %w", err)
	}
	value, ok := body[name]
	if !ok {
		return nil, fmt.Errorf("response has no field %q in %s", name, tc.lastBody)
	}
	return value, nil
}

// Array decodes the last response as a JSON array of objects.
func (tc *TestContext) Array() ([]map[string]any, error) {
	var body []map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("last response is not a JSON array: %w", err)
	}
	return body, nil
}

// SetCredentials stores the token and actor id for an alias.
func (tc *TestContext) SetCredentials(alias, token, actorID string) {
	tc.tokens[alias] = token
	tc.actorIDs[alias] = actorID
}

// ActorID returns the registered id for an alias.
func (tc *TestContext) ActorID(alias string) (string, error) {
	actorID, ok := tc.actorIDs[alias]
	if !ok {
		return "", fmt.Errorf("no registered actor %q", alias)
	}
	return actorID, nil
}

// Save stores a named value for later steps.
func (tc *TestContext) Save(name, value string) {
	tc.saved[name] = value
}

// Saved returns a value stored by an earlier step.
func (tc *TestContext) Saved(name string) (string, error) {
	value, ok := tc.saved[name]
	if !ok {
		return "", fmt.Errorf("nothing saved under %q", name)
	}
	return value, nil
}

// FreshIdentityKey produces a unique on-ledger identity for an alias, so
// scenarios never collide with earlier runs against the same server.
func (tc *TestContext) FreshIdentityKey(alias string) string {
	return fmt.Sprintf("%s-%d-%04d", alias, time.Now().UnixNano(), rand.Intn(10000))
}
