package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "shopctl",
	Short: "Shopctl is a command line tool for operating the shopsync daemon",
	Long: `shopctl is the command-line interface for the shopsync grocery price
aggregation daemon.

syncd scrapes retailer catalogs into Postgres, resolves products onto
canonical barcodes, and rebuilds the product search index. shopctl drives
its admin API.

Common workflows:

  Trigger the daily sync:
    shopctl trigger daily-sync

  Scrape one store on demand:
    shopctl trigger scrape/products --retailer ww --store 1234 --mode fast

  Cancel a running job and its children:
    shopctl cancel daily-sync

  Check a job:
    shopctl status daily-sync

  List stores due for a sync:
    shopctl stores --pending

Configuration:
  Set the API endpoint and credentials via environment variables or a config file:
    SHOPSYNC_URL      API endpoint (default: http://localhost:6060)
    SHOPSYNC_TOKEN    Admin token for authentication`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".shopctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".shopctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SHOPSYNC_VARNAME"
	viper.SetEnvPrefix("SHOPSYNC")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shopctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6060", "syncd admin API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
