// Package mcptools exposes the operator workflow as MCP tools so an
// assistant can list duplicates and reply to them on an operator's
// behalf. Callers authenticate with the same bearer tokens as the HTTP
// API.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/authmw"
	"github.com/linnemanlabs/dupwatch/internal/reply"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

var errUnauthenticated = errors.New("unauthenticated")

// Server holds the MCP server and the services its tools call.
type Server struct {
	server *mcp.Server
	tasks  *task.Service
	queue  *alert.Queue
	intake *reply.Intake
	auth   *authmw.Authenticator
	logger log.Logger
}

// New creates the MCP server and registers its tools.
func New(version string, tasks *task.Service, queue *alert.Queue, intake *reply.Intake, auth *authmw.Authenticator, logger log.Logger) *Server {
	if tasks == nil || queue == nil || intake == nil || auth == nil {
		panic(xerrors.New("mcptools requires task service, alert queue, reply intake and authenticator"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{Name: "dupwatch", Version: version}, nil),
		tasks:  tasks,
		queue:  queue,
		intake: intake,
		auth:   auth,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// MCP returns the underlying server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List the caller's monitor tasks with their conversations, window and whether they are active.",
	}, s.listTasks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_alerts",
		Description: "List the caller's duplicate-message alerts, oldest first. Optionally filter by status: pending, notified, replied or delivered.",
	}, s.listAlerts)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "submit_reply",
		Description: "Reply to a duplicate-message alert. The text is posted in the original conversation as a reply to the duplicate message. Each alert accepts one reply.",
	}, s.submitReply)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Count tracked messages and alerts by status for the caller.",
	}, s.stats)
}

// operator resolves the caller from the context set by authmw, falling
// back to the Authorization header the transport recorded.
func (s *Server) operator(ctx context.Context, req *mcp.CallToolRequest) (string, error) {
	if id, ok := authmw.Operator(ctx); ok {
		return id, nil
	}
	if req != nil && req.Extra != nil && req.Extra.Header != nil {
		if id, err := s.auth.Resolve(req.Extra.Header.Get("Authorization")); err == nil {
			return id, nil
		}
	}
	return "", errUnauthenticated
}

// ListTasksInput is the input for list_tasks.
type ListTasksInput struct{}

// ListTasksOutput is the output for list_tasks.
type ListTasksOutput struct {
	Tasks []TaskView `json:"tasks"`
}

// TaskView is a task as tools see it.
type TaskView struct {
	Label           string   `json:"label"`
	ConversationIDs []string `json:"conversation_ids"`
	WindowHours     int      `json:"window_hours"`
	Method          string   `json:"method"`
	Active          bool     `json:"active"`
}

func (s *Server) listTasks(ctx context.Context, req *mcp.CallToolRequest, _ ListTasksInput) (*mcp.CallToolResult, ListTasksOutput, error) {
	op, err := s.operator(ctx, req)
	if err != nil {
		return nil, ListTasksOutput{}, err
	}
	tasks, err := s.tasks.ListTasks(ctx, op)
	if err != nil {
		s.logger.Error(ctx, err, "mcp list_tasks failed", "owner_id", op)
		return nil, ListTasksOutput{}, fmt.Errorf("list tasks: %w", err)
	}
	out := ListTasksOutput{Tasks: make([]TaskView, 0, len(tasks))}
	for _, t := range tasks {
		out.Tasks = append(out.Tasks, TaskView{
			Label:           t.Label,
			ConversationIDs: t.ConversationIDs,
			WindowHours:     t.WindowHours,
			Method:          string(t.Method),
			Active:          t.Active,
		})
	}
	return nil, out, nil
}

// ListAlertsInput is the input for list_alerts.
type ListAlertsInput struct {
	Status string `json:"status,omitempty" jsonschema:"optional status filter: pending, notified, replied or delivered"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum number of alerts to return, default 200"`
}

// ListAlertsOutput is the output for list_alerts.
type ListAlertsOutput struct {
	Alerts []AlertView `json:"alerts"`
	Error  string      `json:"error,omitempty"`
}

// AlertView is an alert as tools see it. Times are RFC 3339 in UTC.
type AlertView struct {
	ID             int64  `json:"id"`
	TaskLabel      string `json:"task_label"`
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	Status         string `json:"status"`
	ReplyText      string `json:"reply_text,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func alertView(a *alert.Alert) AlertView {
	return AlertView{
		ID:             a.ID,
		TaskLabel:      a.TaskLabel,
		ConversationID: a.ConversationID,
		Sender:         a.SenderLabel(),
		Text:           a.Text,
		Status:         string(a.Status),
		ReplyText:      a.ReplyText,
		CreatedAt:      a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) listAlerts(ctx context.Context, req *mcp.CallToolRequest, in ListAlertsInput) (*mcp.CallToolResult, ListAlertsOutput, error) {
	op, err := s.operator(ctx, req)
	if err != nil {
		return nil, ListAlertsOutput{}, err
	}
	alerts, err := s.queue.ListAlerts(ctx, op, alert.Status(in.Status), in.Limit)
	if alert.IsRejection(err) {
		return nil, ListAlertsOutput{Error: err.Error()}, nil
	}
	if err != nil {
		s.logger.Error(ctx, err, "mcp list_alerts failed", "owner_id", op)
		return nil, ListAlertsOutput{}, fmt.Errorf("list alerts: %w", err)
	}
	out := ListAlertsOutput{Alerts: make([]AlertView, 0, len(alerts))}
	for _, a := range alerts {
		out.Alerts = append(out.Alerts, alertView(a))
	}
	return nil, out, nil
}

// SubmitReplyInput is the input for submit_reply.
type SubmitReplyInput struct {
	AlertID int64  `json:"alert_id" jsonschema:"the alert id"`
	Text    string `json:"text" jsonschema:"the reply text to post in the conversation"`
}

// SubmitReplyOutput is the output for submit_reply.
type SubmitReplyOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) submitReply(ctx context.Context, req *mcp.CallToolRequest, in SubmitReplyInput) (*mcp.CallToolResult, SubmitReplyOutput, error) {
	op, err := s.operator(ctx, req)
	if err != nil {
		return nil, SubmitReplyOutput{}, err
	}
	_, err = s.intake.Submit(ctx, op, in.AlertID, in.Text)
	out := SubmitReplyOutput{Success: err == nil, Message: reply.Describe(in.AlertID, err)}
	if err != nil && !alert.IsRejection(err) && !errors.Is(err, access.ErrForbidden) {
		s.logger.Error(ctx, err, "mcp submit_reply failed", "alert_id", in.AlertID)
		return nil, out, fmt.Errorf("submit reply: %w", err)
	}
	return nil, out, nil
}

// StatsInput is the input for get_stats.
type StatsInput struct{}

// StatsOutput is the output for get_stats.
type StatsOutput struct {
	Messages int64            `json:"messages"`
	Alerts   int64            `json:"alerts"`
	ByStatus map[string]int64 `json:"by_status"`
}

func (s *Server) stats(ctx context.Context, req *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	op, err := s.operator(ctx, req)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	st, err := s.queue.Stats(ctx, op)
	if err != nil {
		s.logger.Error(ctx, err, "mcp get_stats failed", "owner_id", op)
		return nil, StatsOutput{}, fmt.Errorf("stats: %w", err)
	}
	out := StatsOutput{Messages: st.Messages, Alerts: st.Alerts, ByStatus: make(map[string]int64, len(alert.Statuses))}
	for _, status := range alert.Statuses {
		out.ByStatus[string(status)] = st.ByStatus[status]
	}
	return nil, out, nil
}
