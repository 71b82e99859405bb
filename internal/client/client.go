// Package client talks to the local intake HTTP API.
package client

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

	"intake/internal/models"
)

// Client is a small HTTP client for the intake API.
type Client struct {
	baseURL    string
	apiKey     string
	header     string
	httpClient *http.Client
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Message)
}

// New constructs a client for baseURL. An empty header defaults to x-api-key.
func New(baseURL, apiKey, header string) *Client {
	if header == "" {
		header = "x-api-key"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		header:     header,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type SyncResponse struct {
	Summary models.ReplaySummary `json:"summary"`
	Message string               `json:"message"`
}

func (c *Client) Entries(ctx context.Context, owner string) ([]models.ListEntry, error) {
	endpoint := c.baseURL + "/api/v1/entries"
	if owner != "" {
		endpoint += "?owner=" + url.QueryEscape(owner)
	}
	var wrap struct {
		Entries []models.ListEntry `json:"entries"`
	}
	if err := c.doGet(ctx, endpoint, &wrap); err != nil {
		return nil, err
	}
	return wrap.Entries, nil
}

func (c *Client) Queue(ctx context.Context) ([]models.Task, error) {
	var wrap struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.doGet(ctx, c.baseURL+"/api/v1/queue", &wrap); err != nil {
		return nil, err
	}
	return wrap.Tasks, nil
}

func (c *Client) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	var wrap struct {
		DeadLetters []models.DeadLetter `json:"dead_letters"`
	}
	if err := c.doGet(ctx, c.baseURL+"/api/v1/queue/failed", &wrap); err != nil {
		return nil, err
	}
	return wrap.DeadLetters, nil
}

// Sync asks the service to run a replay pass now.
func (c *Client) Sync(ctx context.Context) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.doPost(ctx, c.baseURL+"/api/v1/sync", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetOnline feeds a manual connectivity signal.
func (c *Client) SetOnline(ctx context.Context, online bool) (bool, error) {
	var resp struct {
		Changed bool `json:"changed"`
	}
	body := map[string]bool{"online": online}
	if err := c.doPost(ctx, c.baseURL+"/api/v1/network", body, &resp); err != nil {
		return false, err
	}
	return resp.Changed, nil
}

// ExportEntries streams the XLSX rendering of the entries list into w.
func (c *Client) ExportEntries(ctx context.Context, owner string, w io.Writer) error {
	endpoint := c.baseURL + "/api/v1/entries.xlsx"
	if owner != "" {
		endpoint += "?owner=" + url.QueryEscape(owner)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}
}
