package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	Long:  `List the most recently started jobs, newest first.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		jobs, err := client.RecentJobs(jobsLimit)
		if err != nil {
			cmd.Printf("Failed to list jobs: %v\n", err)
			return
		}
		if len(jobs) == 0 {
			cmd.Println("No jobs found")
			return
		}

		for _, job := range jobs {
			line := colorizeStatus(job.Status) + "  " + colorBold + job.ID + colorReset
			if job.Title != "" {
				line += "  " + colorDim + job.Title + colorReset
			}
			cmd.Println(line)
			cmd.Printf("   %sstarted %s%s\n", colorDim, relativeTime(job.StartedAt)+" ago", colorReset)
		}
	},
}

func init() {
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of jobs to list")
	rootCmd.AddCommand(jobsCmd)
}
