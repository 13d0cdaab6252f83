package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// adminCall sends req as JSON with method to path on the configured dispatcher and
// decodes the response into resp. A nil req sends no body, matching the
// GET-style admin endpoints that take no payload.
func adminCall(method, path string, req, resp any) error {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if adminToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+adminToken)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	httpResp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		msg, _ := io.ReadAll(httpResp.Body)
		return fmt.Errorf("%s %s: %s: %s", method, path, httpResp.Status, bytes.TrimSpace(msg))
	}
	if resp == nil {
		return nil
	}
	return json.NewDecoder(httpResp.Body).Decode(resp)
}
