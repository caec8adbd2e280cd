package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/spf13/cobra"
)

// apiClient is a logged-in session against one fleetd instance, valid
// for the lifetime of a single fleetctl invocation.
type apiClient struct {
	addr      string
	http      *http.Client
	csrfToken string
}

func newAPIClient(cmd *cobra.Command) (*apiClient, error) {
	addr, _ := cmd.Flags().GetString("addr")
	password, _ := cmd.Flags().GetString("password")
	totp, _ := cmd.Flags().GetString("totp")

	if password == "" {
		return nil, fmt.Errorf("fleetctl: --password (or FLEETCTL_PASSWORD) is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("fleetctl: build cookie jar: %w", err)
	}
	c := &apiClient{addr: addr, http: &http.Client{Jar: jar, CheckRedirect: noRedirect}}

	form := url.Values{"password": {password}}
	if totp != "" {
		form.Set("totp", totp)
	}
	resp, err := c.http.PostForm(addr+"/login", form)
	if err != nil {
		return nil, fmt.Errorf("fleetctl: login request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if loc := resp.Header.Get("Location"); loc != "" && loc != "/api/hosts" {
		return nil, fmt.Errorf("fleetctl: login failed (%s)", loc)
	}

	c.csrfToken = resp.Header.Get("X-CSRF-Token")
	return c, nil
}

func noRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fleetd: %s %s: %s (%s)", method, path, resp.Status, string(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
