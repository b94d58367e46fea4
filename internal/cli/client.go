package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// JobResponse — job из API.
type JobResponse struct {
	ID         string         `json:"id"`
	Params     map[string]any `json:"params"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID         string         `json:"id"`
	JobID      string         `json:"job_id"`
	Stage      string         `json:"stage"`
	EngineID   string         `json:"engine_id"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Required   bool           `json:"required"`
	Status     string         `json:"status"`
	Attempt    int            `json:"attempt"`
	MaxRetries int            `json:"max_retries"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// SessionResponse — сессия из API.
type SessionResponse struct {
	ID        string `json:"id"`
	WorkerID  string `json:"worker_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	Language  string `json:"language,omitempty"`
	Model     string `json:"model,omitempty"`
	State     string `json:"state"`
	EndReason string `json:"end_reason,omitempty"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// BindingResponse — результат аллокации сессии.
type BindingResponse struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
	Endpoint  string `json:"endpoint"`
}

// WorkerResponse — worker из API.
type WorkerResponse struct {
	ID             string   `json:"id"`
	Endpoint       string   `json:"endpoint"`
	Capacity       int      `json:"capacity"`
	ActiveSessions int      `json:"active_sessions"`
	FreeCapacity   int      `json:"free_capacity"`
	Models         []string `json:"models,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	Status         string   `json:"status"`
	LastHeartbeat  string   `json:"last_heartbeat"`
	RegisteredAt   string   `json:"registered_at"`
}

// --- Request types ---

// CreateJobRequest — создание job.
type CreateJobRequest struct {
	Params map[string]any `json:"params"`
}

// CreateSessionRequest — аллокация сессии.
type CreateSessionRequest struct {
	TenantID string `json:"tenant_id,omitempty"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
}

// EndSessionRequest — завершение сессии.
type EndSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Vocata API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// ListJobs возвращает jobs. limit=0 — серверный default.
func (c *Client) ListJobs(limit int) ([]JobResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// CreateJob создаёт job транскрипции.
func (c *Client) CreateJob(params map[string]any) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs", CreateJobRequest{Params: params}, &job)
	return &job, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+id, &job)
	return &job, err
}

// ListTasks возвращает tasks job'а.
func (c *Client) ListTasks(jobID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/jobs/"+jobID+"/tasks", nil, &tasks)
	return tasks, err
}

// CancelJob отменяет job.
func (c *Client) CancelJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+id+"/cancel", nil, &job)
	return &job, err
}

// --- Sessions ---

// CreateSession аллоцирует live-сессию.
func (c *Client) CreateSession(req CreateSessionRequest) (*BindingResponse, error) {
	var binding BindingResponse
	err := c.post("/api/v1/sessions", req, &binding)
	return &binding, err
}

// GetSession возвращает сессию по ID.
func (c *Client) GetSession(id string) (*SessionResponse, error) {
	var sess SessionResponse
	err := c.get("/api/v1/sessions/"+id, &sess)
	return &sess, err
}

// ActivateSession отмечает подключение клиента к worker'у.
func (c *Client) ActivateSession(id string) error {
	return c.post("/api/v1/sessions/"+id+"/activate", nil, nil)
}

// EndSession завершает сессию.
func (c *Client) EndSession(id, reason string) error {
	var body any
	if reason != "" {
		body = EndSessionRequest{Reason: reason}
	}
	return c.post("/api/v1/sessions/"+id+"/end", body, nil)
}

// --- Workers ---

// ListWorkers возвращает всех worker'ов.
func (c *Client) ListWorkers() ([]WorkerResponse, error) {
	var workers []WorkerResponse
	err := c.list("/api/v1/workers", nil, &workers)
	return workers, err
}

// GetWorker возвращает worker'а по ID.
func (c *Client) GetWorker(id string) (*WorkerResponse, error) {
	var worker WorkerResponse
	err := c.get("/api/v1/workers/"+id, &worker)
	return &worker, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
