package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopsync/pkg/api"
)

var (
	triggerRetailer string
	triggerStore    string
	triggerMode     string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger [workflow]",
	Short: "Trigger a workflow run",
	Long: `Trigger a workflow on the sync daemon. Externally triggerable workflows
are daily-sync, scrape/products and index/search. The per-store scrape
needs --retailer and --store; --mode selects full or fast.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		resp, err := client.TriggerWorkflow(api.TriggerWorkflowRequest{
			Workflow: args[0],
			Retailer: triggerRetailer,
			StoreID:  triggerStore,
			Mode:     triggerMode,
		})
		if err != nil {
			cmd.Printf("Failed to trigger workflow: %v\n", err)
			return
		}

		cmd.Printf("%s Started %s%s%s\n", statusIcon("RUNNING"), colorBold, resp.JobID, colorReset)
		cmd.Printf("%sRun ID:%s %s\n", colorDim, colorReset, resp.RunID)
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerRetailer, "retailer", "", "retailer code (ww, pns, nw)")
	triggerCmd.Flags().StringVar(&triggerStore, "store", "", "store id within the retailer")
	triggerCmd.Flags().StringVar(&triggerMode, "mode", "", "scrape mode (full or fast)")
	rootCmd.AddCommand(triggerCmd)
}
