package client

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

	"liveclass-service/internal/domain"
)

// APIClient talks to the JSON API of the check-in service.
type APIClient struct {
	baseURL string
	http    *http.Client
	session *Session
}

// NewAPIClient targets baseURL (e.g. http://localhost:8080). A nil session sends no token.
func NewAPIClient(baseURL string, session *Session, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
	}
}

// ListToday fetches today's assignments for the student, newest first.
func (c *APIClient) ListToday(ctx context.Context, studentID, instructorID string, limit int) ([]domain.Assignment, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if instructorID != "" {
		q.Set("instructorId", instructorID)
	}
	path := "/api/students/" + url.PathEscape(studentID) + "/assignments?" + q.Encode()

	var rows []domain.Assignment
	if err := c.do(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return rows, nil
}

// CleanupStaleCheckins asks the server to purge expired, unsaved check-ins.
func (c *APIClient) CleanupStaleCheckins(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/checkins/cleanup", nil, nil); err != nil {
		return fmt.Errorf("cleanup check-ins: %w", err)
	}
	return nil
}

// CreateAssignment pushes a new assignment to a student.
func (c *APIClient) CreateAssignment(ctx context.Context, in domain.NewAssignment) (domain.Assignment, error) {
	var out domain.Assignment
	if err := c.do(ctx, http.MethodPost, "/api/assignments", in, &out); err != nil {
		return domain.Assignment{}, fmt.Errorf("create assignment: %w", err)
	}
	return out, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		if token := c.session.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &StatusError{Code: resp.StatusCode, Message: payload.Message}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
