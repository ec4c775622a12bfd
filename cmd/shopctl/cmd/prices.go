package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopsync/pkg/api"
)

var (
	pricesProducts  []string
	pricesStores    []string
	pricesFallbacks bool
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Resolve prices for products at stores",
	Long: `Resolve the best available prices for canonical product ids (barcodes)
at the given stores. Stores are "<retailer>-<storeId>" keys. With
--fallbacks, missing direct prices fall back to the store's explicit
fallback store and then to nearby stores.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if len(pricesProducts) == 0 || len(pricesStores) == 0 {
			cmd.Println("Both --products and --stores are required")
			return
		}

		client := NewAdminClient(viper.GetString("url"), viper.GetString("token"))

		rows, err := client.Prices(api.PricesRequest{
			ProductIDs:     pricesProducts,
			Stores:         pricesStores,
			AllowFallbacks: pricesFallbacks,
		})
		if err != nil {
			cmd.Printf("Failed to resolve prices: %v\n", err)
			return
		}
		if len(rows) == 0 {
			cmd.Println("No prices found")
			return
		}

		for _, row := range rows {
			marker := ""
			if row.IsFallbackPrice {
				marker = colorYellow + " (fallback)" + colorReset
			}
			cmd.Printf("%s%s%s @ %s%s\n", colorBold, row.ProductID, colorReset, row.StoreName, marker)
			cmd.Printf("   %s%s%s", colorGreen, formatCents(row.OriginalPrice), colorReset)
			if row.SalePrice != nil {
				cmd.Printf("  %ssale %s%s", colorDim, formatCents(*row.SalePrice), colorReset)
			}
			if row.ClubPrice != nil {
				cmd.Printf("  %sclub %s%s", colorDim, formatCents(*row.ClubPrice), colorReset)
			}
			if row.MultiBuyPrice != nil && row.MultiBuyThreshold != nil {
				cmd.Printf("  %s%d for %s%s", colorDim, *row.MultiBuyThreshold, formatCents(*row.MultiBuyPrice), colorReset)
			}
			cmd.Println()
		}
	},
}

func formatCents(cents int) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func init() {
	pricesCmd.Flags().StringSliceVar(&pricesProducts, "products", nil, "canonical product ids (barcodes)")
	pricesCmd.Flags().StringSliceVar(&pricesStores, "stores", nil, "store keys, e.g. ww-1234")
	pricesCmd.Flags().BoolVar(&pricesFallbacks, "fallbacks", false, "allow fallback prices from other stores")
	rootCmd.AddCommand(pricesCmd)
}
