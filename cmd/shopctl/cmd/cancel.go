package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [job_id]",
	Short: "Cancel a running job",
	Long: `Cancel a running job. Cancellation settles the job as CANCELLED and
fans out to any running child jobs.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.CancelJob(args[0])
		if err != nil {
			cmd.Printf("Failed to cancel job: %v\n", err)
			return
		}

		cmd.Printf("%s Cancelled %s\n", statusIcon("CANCELLED"), resp.JobID)
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}
