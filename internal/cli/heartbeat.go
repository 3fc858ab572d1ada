package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var heartbeatUserID string

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Run one heartbeat cycle and print the report",
	RunE:  runHeartbeat,
}

func init() {
	heartbeatCmd.Flags().StringVar(&heartbeatUserID, "user", "", "scan a single user instead of all active users")
}

func runHeartbeat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.runner.Run(context.Background(), heartbeatUserID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
