package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zphelps/jarvis/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskEventsCmd = &cobra.Command{
	Use:   "events [task-id]",
	Short: "Show the event history for a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEvents,
}

var taskRespondCmd = &cobra.Command{
	Use:   "respond [task-id] [response]",
	Short: "Answer a task that is waiting for input",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTaskRespond,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Retry a failed task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRetry,
}

var (
	taskStatus    string
	taskAttention bool
	cancelReason  string
)

func init() {
	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskEventsCmd, taskRespondCmd, taskCancelCmd, taskRetryCmd)

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (pending, queued, running, needs_input, completed, failed, cancelled)")
	taskListCmd.Flags().BoolVar(&taskAttention, "attention", false, "Only tasks flagged for attention")

	taskCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Reason for cancelling")
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if taskStatus != "" {
		q.Set("status", taskStatus)
	}
	if taskAttention {
		q.Set("attention", "true")
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := apiGet(path)
	if err != nil {
		return err
	}

	var tasks []models.Task
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tSTATUS\tPRIORITY\tSPENT")
	for _, t := range tasks {
		attention := ""
		if t.RequiresAttention {
			attention = " !"
		}
		fmt.Fprintf(w, "%s\t%s\t%s%s\t%s\t$%.2f\n",
			truncateID(t.ID), truncate(t.Description, 48), colorStatus(t.Status), attention, t.Priority, t.SpentUSD)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", task.ID)
	fmt.Printf("Description: %s\n", task.Description)
	fmt.Printf("Status:      %s\n", colorStatus(task.Status))
	fmt.Printf("Priority:    %s\n", task.Priority)
	if task.ParentID != "" {
		fmt.Printf("Parent:      %s\n", task.ParentID)
	}
	if task.ExecutorType != "" {
		fmt.Printf("Executor:    %s\n", task.ExecutorType)
	}
	fmt.Printf("Tokens:      %d\n", task.TokensUsed)
	fmt.Printf("Spent:       $%.4f", task.SpentUSD)
	if task.BudgetUSD != nil {
		fmt.Printf(" of $%.2f budget", *task.BudgetUSD)
	}
	fmt.Println()
	if task.RequiresAttention {
		color.Yellow("Attention:   %s (%s)", task.AttentionReason, task.AttentionPriority)
	}
	if task.Result != nil {
		fmt.Printf("Result:      %s\n", task.Result.Summary)
	}
	if task.Error != nil {
		color.Red("Error:       [%s] %s", task.Error.Code, task.Error.Message)
		if task.Error.SuggestedAction != "" {
			fmt.Printf("Suggested:   %s\n", task.Error.SuggestedAction)
		}
	}
	fmt.Printf("Created:     %s\n", task.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if task.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", task.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}

	// Show subtasks for dispatch roots.
	subResp, err := apiGet("/tasks/" + args[0] + "/subtasks")
	if err != nil {
		return nil
	}
	var subtasks []models.Task
	if err := json.Unmarshal(subResp, &subtasks); err != nil || len(subtasks) == 0 {
		return nil
	}

	fmt.Println("\nSubtasks:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, st := range subtasks {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", truncateID(st.ID), truncate(st.Description, 48), colorStatus(st.Status))
	}
	w.Flush()
	return nil
}

func runTaskEvents(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/events")
	if err != nil {
		return err
	}

	var evs []models.Event
	if err := json.Unmarshal(resp, &evs); err != nil {
		return err
	}

	if len(evs) == 0 {
		fmt.Println("No events found")
		return nil
	}

	for _, ev := range evs {
		ts := ev.Timestamp.Local().Format("15:04:05")
		fmt.Printf("%s  %-20s %s\n", ts, ev.Type, describeEvent(ev))
	}
	return nil
}

// describeEvent renders a one-line summary of an event payload.
func describeEvent(ev models.Event) string {
	switch p := ev.Payload.(type) {
	case models.CreatedPayload:
		return truncate(p.Description, 60)
	case models.DecomposedPayload:
		return fmt.Sprintf("%d subtasks planned", p.SubtaskCount)
	case models.StartedPayload:
		return fmt.Sprintf("executor %s", p.ExecutorType)
	case models.ProgressPayload:
		return truncate(p.Message, 60)
	case models.NeedsInputPayload:
		return truncate(p.Question, 60)
	case models.InputReceivedPayload:
		return truncate(p.Response, 60)
	case models.CompletedPayload:
		return fmt.Sprintf("%s (%d tokens, $%.4f)", truncate(p.Summary, 40), p.TokensUsed, p.CostUSD)
	case models.FailedPayload:
		return truncate(p.Error, 60)
	case models.CancelledPayload:
		return p.Reason
	default:
		return ""
	}
}

func runTaskRespond(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"response": strings.Join(args[1:], " "),
	}
	if _, err := apiPost("/tasks/"+args[0]+"/respond", body); err != nil {
		return err
	}
	fmt.Printf("Response delivered, task %s resumed\n", args[0])
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	body := map[string]string{
		"reason": cancelReason,
	}
	if _, err := apiPost("/tasks/"+args[0]+"/cancel", body); err != nil {
		return err
	}
	fmt.Printf("Cancelled task %s\n", args[0])
	return nil
}

func runTaskRetry(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/retry", struct{}{}); err != nil {
		return err
	}
	fmt.Printf("Requeued task %s\n", args[0])
	return nil
}

// --- Helpers ---

func colorStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(string(s))
	case models.TaskStatusFailed:
		return color.RedString(string(s))
	case models.TaskStatusRunning:
		return color.CyanString(string(s))
	case models.TaskStatusNeedsInput:
		return color.YellowString(string(s))
	case models.TaskStatusCancelled:
		return color.HiBlackString(string(s))
	default:
		return string(s)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
