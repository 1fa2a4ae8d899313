package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/deskstream/deskstream/internal/api"
)

var notificationsListLimit int

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Notification commands (talk to the support backend)",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications for the configured tenant",
	RunE:  runNotificationsList,
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification_id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationsRead,
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE:  runNotificationsReadAll,
}

var notificationsDeleteCmd = &cobra.Command{
	Use:   "delete <notification_id>",
	Short: "Delete a notification",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotificationsDelete,
}

func init() {
	notificationsListCmd.Flags().IntVar(&notificationsListLimit, "limit", 50, "Maximum number of notifications to show")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsReadAllCmd, notificationsDeleteCmd)
	rootCmd.AddCommand(notificationsCmd)
}

func newBackendClient() (*api.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	return api.NewClient(cfg.API.BaseURL, cfg.API.Key, cfg.API.Timeout), cfg.Business.ID, nil
}

func runNotificationsList(cmd *cobra.Command, args []string) error {
	client, businessID, err := newBackendClient()
	if err != nil {
		return err
	}

	ctx := context.Background()

	list, err := client.Notifications(ctx, businessID, notificationsListLimit)
	if err != nil {
		return fmt.Errorf("failed to list notifications: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No notifications")
		return nil
	}

	unread, err := client.UnreadCount(ctx, businessID)
	if err != nil {
		return fmt.Errorf("failed to get unread count: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tREAD\tCREATED\tTITLE")
	fmt.Fprintln(w, "--\t----\t----\t-------\t-----")

	for _, n := range list {
		title := n.CaseTitle
		if title == "" {
			title = n.CustomerName
		}
		if len(title) > 40 {
			title = title[:37] + "..."
		}

		read := "no"
		if n.Read {
			read = "yes"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(n.ID),
			n.Type,
			read,
			n.CreatedAt.Format("2006-01-02 15:04"),
			title,
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d notifications, %d unread\n", len(list), unread)

	return nil
}

func runNotificationsRead(cmd *cobra.Command, args []string) error {
	client, _, err := newBackendClient()
	if err != nil {
		return err
	}

	id := args[0]
	if err := client.MarkRead(context.Background(), id); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	fmt.Printf("Notification %s marked as read\n", id)
	return nil
}

func runNotificationsReadAll(cmd *cobra.Command, args []string) error {
	client, businessID, err := newBackendClient()
	if err != nil {
		return err
	}

	if err := client.MarkAllRead(context.Background(), businessID); err != nil {
		return fmt.Errorf("failed to mark all notifications read: %w", err)
	}

	fmt.Println("All notifications marked as read")
	return nil
}

func runNotificationsDelete(cmd *cobra.Command, args []string) error {
	client, _, err := newBackendClient()
	if err != nil {
		return err
	}

	id := args[0]
	if err := client.Delete(context.Background(), id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	fmt.Printf("Notification %s deleted\n", id)
	return nil
}

func truncateID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "..."
}
