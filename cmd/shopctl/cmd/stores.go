package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var storesPending bool

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "List registered stores",
	Long:  `List registered stores. With --pending, only stores due for a sync.`,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		stores, err := client.Stores(storesPending)
		if err != nil {
			cmd.Printf("Failed to list stores: %v\n", err)
			return
		}
		if len(stores) == 0 {
			cmd.Println("No stores found")
			return
		}

		for _, s := range stores {
			key := s.Retailer + "-" + s.ID
			cmd.Printf("%s%s%s  %s\n", colorBold, key, colorReset, s.Name)

			synced := "never"
			if s.LastSyncedAt != nil {
				synced = relativeTime(*s.LastSyncedAt) + " ago"
			}
			cmd.Printf("   %sschedule %s, synced %s%s\n", colorDim, s.SyncSchedule, synced, colorReset)
			if s.FallbackStoreID != nil {
				cmd.Printf("   %sfallback %s-%s%s\n", colorDim, s.Retailer, *s.FallbackStoreID, colorReset)
			}
		}
	},
}

var fallbackCmd = &cobra.Command{
	Use:   "fallback [retailer] [store_id] [fallback_store_id]",
	Short: "Set a store's explicit fallback store",
	Long: `Set the explicit fallback store used by price resolution when the
requested store has no direct data. Pass an empty fallback id to clear.`,
	Args: cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		if err := client.SetFallbackStore(args[0], args[1], args[2]); err != nil {
			cmd.Printf("Failed to set fallback store: %v\n", err)
			return
		}
		cmd.Printf("%s Fallback for %s-%s set\n", statusIcon("COMPLETED"), args[0], args[1])
	},
}

func init() {
	storesCmd.Flags().BoolVar(&storesPending, "pending", false, "only stores due for a sync")
	storesCmd.AddCommand(fallbackCmd)
	rootCmd.AddCommand(storesCmd)
}
