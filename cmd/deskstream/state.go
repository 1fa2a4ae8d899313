package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskstream/deskstream/internal/stateapi"
)

var stateAddr string

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show agent presence from a running daemon",
	RunE:  runAgents,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show the chat queue snapshot from a running daemon",
	RunE:  runQueue,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and connection state",
	RunE:  runStatus,
}

func init() {
	for _, c := range []*cobra.Command{agentsCmd, queueCmd, statusCmd} {
		c.Flags().StringVar(&stateAddr, "addr", "http://127.0.0.1:8085", "Address of the local state API")
	}
	rootCmd.AddCommand(agentsCmd, queueCmd, statusCmd)
}

func stateGet(path string, out any) error {
	url := strings.TrimRight(stateAddr, "/") + path

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach state API at %s: %w", stateAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("state API returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode state API response: %w", err)
	}
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	var resp stateapi.AgentsResponse
	if err := stateGet("/state/agents", &resp); err != nil {
		return err
	}

	if len(resp.Agents) == 0 {
		fmt.Println("No agents tracked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tNAME\tSTATUS\tACTIVE\tTOTAL\tLAST ACTIVE")
	fmt.Fprintln(w, "-----\t----\t------\t------\t-----\t-----------")

	for _, a := range resp.Agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(a.AgentID),
			a.Name,
			a.Status,
			a.ActiveChats,
			a.TotalChats,
			a.LastActive.Format("2006-01-02 15:04:05"),
		)
	}

	w.Flush()
	fmt.Printf("\nTotal: %d agents\n", len(resp.Agents))

	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	var resp stateapi.QueueResponse
	if err := stateGet("/state/queue", &resp); err != nil {
		return err
	}

	if resp.Queue == nil {
		fmt.Println("No queue snapshot yet")
		return nil
	}

	q := resp.Queue

	fmt.Println("Chat Queue")
	fmt.Println("==========")
	fmt.Printf("Waiting:      %d\n", q.Waiting)
	fmt.Printf("In Progress:  %d\n", q.InProgress)
	fmt.Printf("Resolved:     %d\n", q.Resolved)
	fmt.Printf("Total:        %d\n", q.Total)
	if !resp.Approximate {
		fmt.Printf("Avg Wait:     %.1fs\n", q.AvgWaitSeconds)
		fmt.Printf("Avg Response: %.1fs\n", q.AvgRespSeconds)
	}
	fmt.Printf("Received:     %s\n", q.ReceivedAt.Format(time.RFC3339))
	if resp.Approximate {
		fmt.Println("\nSnapshot is stale; counts derived from agent activity")
	}

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var resp stateapi.HealthResponse
	if err := stateGet("/healthz", &resp); err != nil {
		return err
	}

	fmt.Printf("Status:        %s\n", resp.Status)
	fmt.Printf("Uptime:        %s\n", resp.Uptime)
	fmt.Printf("Notifications: %s\n", connState(resp.Notifications))
	fmt.Printf("Presence:      %s\n", connState(resp.Presence))

	return nil
}

func connState(up bool) string {
	if up {
		return "connected"
	}
	return "disconnected"
}
