package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okkara/arbitr/internal/arbiter"
)

// APIClient talks to a running arbiter's admin API.
type APIClient struct {
	base string
	hc   *http.Client
}

func NewAPIClient(base string, timeout time.Duration) *APIClient {
	return &APIClient{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) Status() (arbiter.Status, error) {
	var st arbiter.Status
	resp, err := c.hc.Get(c.base + "/status")
	if err != nil {
		return st, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func (c *APIClient) Reload() error {
	resp, err := c.hc.Post(c.base+"/reload", "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func (c *APIClient) Shutdown(graceful bool) error {
	url := c.base + "/shutdown"
	if !graceful {
		url += "?graceful=false"
	}
	resp, err := c.hc.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("admin api: %s (%s)", e.Error, resp.Status)
	}
	return fmt.Errorf("admin api: %s", resp.Status)
}
