package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zphelps/jarvis/internal/models"
)

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Manage pending notifications",
	RunE:  runNotificationsList,
}

var notificationsResolveCmd = &cobra.Command{
	Use:   "resolve [notification-id]",
	Short: "Resolve a notification",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationsResolve,
}

func init() {
	notificationsCmd.AddCommand(notificationsResolveCmd)
}

func runNotificationsList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/notifications")
	if err != nil {
		return err
	}

	var notifications []models.Notification
	if err := json.Unmarshal(resp, &notifications); err != nil {
		return err
	}

	if len(notifications) == 0 {
		fmt.Println("No pending notifications")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTASK\tPRIORITY\tREASON")
	for _, n := range notifications {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(n.ID), truncateID(n.TaskID), colorSurface(n.Decision.Priority), truncate(n.Decision.Reason, 60))
	}
	w.Flush()
	return nil
}

func runNotificationsResolve(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/notifications/"+args[0]+"/resolve", struct{}{}); err != nil {
		return err
	}
	fmt.Printf("Resolved notification %s\n", args[0])
	return nil
}

func colorSurface(p models.SurfacePriority) string {
	switch p {
	case models.SurfaceInterrupt:
		return color.RedString(string(p))
	case models.SurfaceNextTurn:
		return color.YellowString(string(p))
	default:
		return string(p)
	}
}
