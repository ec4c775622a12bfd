package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopsync/pkg/api"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of a job",
	Long:  `Retrieve the ledger row for a job, including its current state (RUNNING, COMPLETED, FAILED, CANCELLED) and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		job, err := client.GetJob(args[0])
		if err != nil {
			cmd.Printf("Failed to get job: %v\n", err)
			return
		}

		printStatus(cmd, *job)
	},
}

func printStatus(cmd *cobra.Command, job api.JobResponse) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s        %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sWorkflow:%s  %s\n", colorDim, colorReset, job.Workflow)
	if job.Title != "" {
		cmd.Printf("%sTitle:%s     %s\n", colorDim, colorReset, job.Title)
	}
	cmd.Printf("%sStatus:%s    %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	if job.ParentJobID != nil {
		cmd.Printf("%sParent:%s    %s\n", colorDim, colorReset, *job.ParentJobID)
	}
	cmd.Printf("%sRun ID:%s    %s\n", colorDim, colorReset, job.RunID)

	cmd.Printf("%sStarted:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&job.StartedAt))
	if job.EndedAt != nil {
		duration := job.EndedAt.Sub(job.StartedAt)
		cmd.Printf("%sEnded:%s     %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.EndedAt),
			colorCyan, formatDuration(duration), colorReset)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "CANCELLED":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "COMPLETED":
		return icon + " " + colorGreen + status + colorReset
	case "FAILED":
		return icon + " " + colorRed + status + colorReset
	case "RUNNING":
		return icon + " " + colorYellow + status + colorReset
	case "CANCELLED":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
