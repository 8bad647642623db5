package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/zphelps/jarvis/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Jarvis API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListTasks fetches tasks from the API, optionally filtered by status
func (c *Client) ListTasks(status string) ([]models.Task, error) {
	u := c.baseURL + "/tasks"
	if status != "" {
		u += "?status=" + url.QueryEscape(status)
	}

	var tasks []models.Task
	if err := c.getJSON(u, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask fetches a single task
func (c *Client) GetTask(id string) (*models.Task, error) {
	var task models.Task
	if err := c.getJSON(c.baseURL+"/tasks/"+id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetSubtasks fetches the subtasks of a dispatch root
func (c *Client) GetSubtasks(id string) ([]models.Task, error) {
	var subtasks []models.Task
	if err := c.getJSON(c.baseURL+"/tasks/"+id+"/subtasks", &subtasks); err != nil {
		return nil, err
	}
	return subtasks, nil
}

// GetEvents fetches the event history for a task
func (c *Client) GetEvents(id string) ([]models.Event, error) {
	var evs []models.Event
	if err := c.getJSON(c.baseURL+"/tasks/"+id+"/events", &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// GetNotifications fetches unresolved notifications
func (c *Client) GetNotifications() ([]models.Notification, error) {
	var notifications []models.Notification
	if err := c.getJSON(c.baseURL+"/notifications", &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// Dispatch submits a new request
func (c *Client) Dispatch(description string, priority models.TaskPriority) (*models.Task, error) {
	resp, err := c.post("/dispatches", models.DispatchRequest{
		Description: description,
		Priority:    priority,
	})
	if err != nil {
		return nil, err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Respond answers a task that is waiting for input
func (c *Client) Respond(taskID, response string) error {
	_, err := c.post("/tasks/"+taskID+"/respond", map[string]string{"response": response})
	return err
}

// CancelTask cancels a task
func (c *Client) CancelTask(taskID, reason string) error {
	_, err := c.post("/tasks/"+taskID+"/cancel", map[string]string{"reason": reason})
	return err
}

// RetryTask requeues a failed task
func (c *Client) RetryTask(taskID string) error {
	_, err := c.post("/tasks/"+taskID+"/retry", struct{}{})
	return err
}

// ResolveNotification marks a notification as handled
func (c *Client) ResolveNotification(id string) error {
	_, err := c.post("/notifications/"+id+"/resolve", struct{}{})
	return err
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) getJSON(url string, out interface{}) error {
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}
