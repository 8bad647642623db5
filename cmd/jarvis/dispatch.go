package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zphelps/jarvis/internal/models"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [description]",
	Short: "Dispatch a new request",
	Long:  `Submits a natural-language request. Jarvis decomposes it into subtasks and runs them in the background.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDispatch,
}

var (
	dispatchPriority string
	dispatchContext  string
	dispatchBudget   float64
)

func init() {
	dispatchCmd.Flags().StringVar(&dispatchPriority, "priority", "", "Priority (low, medium, high, urgent)")
	dispatchCmd.Flags().StringVar(&dispatchContext, "context", "", "Extra context for the request")
	dispatchCmd.Flags().Float64Var(&dispatchBudget, "budget", 0, "Spending budget in USD (0 = unlimited)")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	req := models.DispatchRequest{
		Description: strings.Join(args, " "),
		Priority:    models.TaskPriority(dispatchPriority),
		Context:     dispatchContext,
	}
	if dispatchBudget > 0 {
		req.BudgetUSD = &dispatchBudget
	}

	resp, err := apiPost("/dispatches", req)
	if err != nil {
		return err
	}

	var task models.Task
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Dispatched task: %s\n", task.ID)
	fmt.Printf("Priority:        %s\n", task.Priority)
	fmt.Println("Jarvis is planning subtasks. Check progress with 'jarvis task list'.")
	return nil
}
