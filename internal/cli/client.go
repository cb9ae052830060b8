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

// RequestResponse — заявка из API.
type RequestResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Status    string         `json:"status"`
	OrgID     string         `json:"org_id"`
	CreatedBy string         `json:"created_by"`
	Brief     map[string]any `json:"brief,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// TaskResponse — task из API.
type TaskResponse struct {
	ID         string         `json:"id"`
	RequestID  string         `json:"request_id"`
	Role       string         `json:"role"`
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Sequence   int            `json:"sequence"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Status     string         `json:"status"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	TimeoutSec int            `json:"timeout_sec"`
	StartedAt  string         `json:"started_at,omitempty"`
	FinishedAt string         `json:"finished_at,omitempty"`
	OutputURL  string         `json:"output_url,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// EventResponse — запись аудита из API.
type EventResponse struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	TaskID      string         `json:"task_id,omitempty"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

// DispatchResponse — запись об отправке из API.
type DispatchResponse struct {
	ID            string         `json:"id"`
	TaskID        string         `json:"task_id"`
	ExternalJobID string         `json:"external_job_id"`
	Provider      string         `json:"provider"`
	Status        string         `json:"status"`
	Response      map[string]any `json:"response,omitempty"`
	CostCents     int64          `json:"cost_cents"`
	CreatedAt     string         `json:"created_at"`
}

// DeadLetterResponse — dead letter из API.
type DeadLetterResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	RequestID string `json:"request_id"`
	Role      string `json:"role"`
	Key       string `json:"key"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
	Requeued  bool   `json:"requeued"`
	CreatedAt string `json:"created_at"`
}

// CostResponse — суммарная стоимость заявки из API.
type CostResponse struct {
	RequestID      string `json:"request_id"`
	TotalCostCents int64  `json:"total_cost_cents"`
}

// ProcessResponse — результат шага оркестрации.
type ProcessResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// --- Request types ---

// CreateRequestRequest — создание заявки.
type CreateRequestRequest struct {
	Type      string         `json:"type"`
	OrgID     string         `json:"org_id"`
	CreatedBy string         `json:"created_by,omitempty"`
	Brief     map[string]any `json:"brief,omitempty"`
}

// CancelRequestRequest — отмена заявки.
type CancelRequestRequest struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ActorRequest — тело запроса с одним актором (retry, requeue).
type ActorRequest struct {
	Actor string `json:"actor,omitempty"`
}

// ListRequestsOpts — параметры фильтрации заявок.
type ListRequestsOpts struct {
	OrgID  string
	Status string
	Limit  int
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

// Client — HTTP-клиент для Conductor API.
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

// --- Requests ---

// ListRequests возвращает заявки с фильтрацией.
func (c *Client) ListRequests(opts ListRequestsOpts) ([]RequestResponse, error) {
	params := url.Values{}
	if opts.OrgID != "" {
		params.Set("org_id", opts.OrgID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var requests []RequestResponse
	err := c.list("/api/v1/requests", params, &requests)
	return requests, err
}

// CreateRequest создаёт новую заявку.
func (c *Client) CreateRequest(req CreateRequestRequest) (*RequestResponse, error) {
	var created RequestResponse
	err := c.post("/api/v1/requests", req, &created)
	return &created, err
}

// GetRequest возвращает заявку по ID.
func (c *Client) GetRequest(id string) (*RequestResponse, error) {
	var req RequestResponse
	err := c.get("/api/v1/requests/"+id, &req)
	return &req, err
}

// ProcessRequest выполняет один шаг оркестрации.
func (c *Client) ProcessRequest(id string) (*ProcessResponse, error) {
	var result ProcessResponse
	err := c.post("/api/v1/requests/"+id+"/process", nil, &result)
	return &result, err
}

// CancelRequest отменяет заявку.
func (c *Client) CancelRequest(id, reason string) (*RequestResponse, error) {
	body := CancelRequestRequest{Actor: "cli", Reason: reason}
	var req RequestResponse
	err := c.post("/api/v1/requests/"+id+"/cancel", body, &req)
	return &req, err
}

// ListTasks возвращает tasks заявки.
func (c *Client) ListTasks(requestID string) ([]TaskResponse, error) {
	var tasks []TaskResponse
	err := c.list("/api/v1/requests/"+requestID+"/tasks", nil, &tasks)
	return tasks, err
}

// ListEvents возвращает аудит заявки.
func (c *Client) ListEvents(requestID string) ([]EventResponse, error) {
	var events []EventResponse
	err := c.list("/api/v1/requests/"+requestID+"/events", nil, &events)
	return events, err
}

// GetCost возвращает суммарную стоимость заявки.
func (c *Client) GetCost(requestID string) (*CostResponse, error) {
	var cost CostResponse
	err := c.get("/api/v1/requests/"+requestID+"/cost", &cost)
	return &cost, err
}

// --- Tasks ---

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// RetryTask вручную повторяет упавший task.
func (c *Client) RetryTask(id string) (*TaskResponse, error) {
	body := ActorRequest{Actor: "cli"}
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/retry", body, &task)
	return &task, err
}

// ListDispatches возвращает записи об отправках task.
func (c *Client) ListDispatches(taskID string) ([]DispatchResponse, error) {
	var records []DispatchResponse
	err := c.list("/api/v1/tasks/"+taskID+"/dispatches", nil, &records)
	return records, err
}

// --- Dead letters ---

// ListDeadLetters возвращает необработанные dead letters.
func (c *Client) ListDeadLetters(limit int) ([]DeadLetterResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}

	var letters []DeadLetterResponse
	err := c.list("/api/v1/dead-letters", params, &letters)
	return letters, err
}

// RequeueDeadLetter возвращает task из dead letters в работу.
func (c *Client) RequeueDeadLetter(taskID string) (*TaskResponse, error) {
	body := ActorRequest{Actor: "cli"}
	var task TaskResponse
	err := c.post("/api/v1/dead-letters/"+taskID+"/requeue", body, &task)
	return &task, err
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
