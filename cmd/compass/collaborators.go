package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/northstarfp/compass/pkg/tools"
)

// Thin JSON-over-HTTP wrappers around the collaborator services. These are
// deployment glue: all behavior lives behind the pkg/tools interfaces.

var errUnconfigured = errors.New("collaborator not configured")

type restClient struct {
	base  string
	token string
	http  *http.Client
}

func newRESTClient(base, token string) *restClient {
	return &restClient{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *restClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.base == "" {
		return errUnconfigured
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// -- Email --

type emailAPI struct {
	client *restClient
}

func newEmailDialer(base string) tools.EmailDialer {
	return func(token string) tools.EmailClient {
		return &emailAPI{client: newRESTClient(base, token)}
	}
}

func (e *emailAPI) Search(ctx context.Context, query string, limit int) ([]tools.EmailMessage, error) {
	var out []tools.EmailMessage
	path := fmt.Sprintf("/messages?q=%s&limit=%d", url.QueryEscape(query), limit)
	if err := e.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *emailAPI) Send(ctx context.Context, to, subject, body string) error {
	return e.client.do(ctx, http.MethodPost, "/messages", map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	}, nil)
}

// -- Calendar --

type calendarAPI struct {
	client *restClient
}

func newCalendarClient(base string) tools.CalendarClient {
	return &calendarAPI{client: newRESTClient(base, "")}
}

func (c *calendarAPI) FindFreeSlots(ctx context.Context, start, end time.Time, duration time.Duration) ([]tools.TimeSlot, error) {
	var out []tools.TimeSlot
	path := fmt.Sprintf("/slots?start=%s&end=%s&minutes=%d",
		url.QueryEscape(start.Format(time.RFC3339)),
		url.QueryEscape(end.Format(time.RFC3339)),
		int(duration.Minutes()))
	if err := c.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *calendarAPI) CreateEvent(ctx context.Context, event tools.CalendarEvent) (*tools.CalendarEvent, error) {
	var out tools.CalendarEvent
	if err := c.client.do(ctx, http.MethodPost, "/events", event, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *calendarAPI) Search(ctx context.Context, query string, timeMin, timeMax time.Time) ([]tools.CalendarEvent, error) {
	path := "/events?q=" + url.QueryEscape(query)
	if !timeMin.IsZero() {
		path += "&timeMin=" + url.QueryEscape(timeMin.Format(time.RFC3339))
	}
	if !timeMax.IsZero() {
		path += "&timeMax=" + url.QueryEscape(timeMax.Format(time.RFC3339))
	}
	var out []tools.CalendarEvent
	if err := c.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// -- CRM --

type crmAPI struct {
	client *restClient
}

func newCRMClient(base string) tools.CRMClient {
	return &crmAPI{client: newRESTClient(base, "")}
}

func (c *crmAPI) Search(ctx context.Context, query string) ([]tools.CRMContact, error) {
	var out []tools.CRMContact
	if err := c.client.do(ctx, http.MethodGet, "/contacts?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *crmAPI) Create(ctx context.Context, fields map[string]string) (*tools.CRMContact, error) {
	var out tools.CRMContact
	if err := c.client.do(ctx, http.MethodPost, "/contacts", fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *crmAPI) Update(ctx context.Context, id string, fields map[string]string) (*tools.CRMContact, error) {
	var out tools.CRMContact
	if err := c.client.do(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(id), fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *crmAPI) AddNote(ctx context.Context, id, note string) error {
	return c.client.do(ctx, http.MethodPost, "/contacts/"+url.PathEscape(id)+"/notes", map[string]string{
		"note": note,
	}, nil)
}
