package main

import (
	"encoding/json"
	"fmt"
	"os"

	rail "github.com/railpayorg/railpay/pkg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	// Load config
	var config rail.Config

	LoadConfig(&config)

	// define root command
	rootCmd := &cobra.Command{
		Use: "railpay",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(0)
		},
	}

	// Add flags for each configuration option
	rootCmd.PersistentFlags().StringVar(&config.Railpay.ServiceName, "service-name", "", "Service name")
	rootCmd.PersistentFlags().StringVar(&config.Railpay.Network, "network", "", "Network (advisory)")
	rootCmd.PersistentFlags().StringVar(&config.Fiat.Unit, "fiat-unit", "", "Settlement unit for fiat requests")
	rootCmd.PersistentFlags().IntVar(&config.Funnel.TimeoutMinutes, "funnel-timeout", 0, "Funnel timeout in minutes")
	rootCmd.PersistentFlags().IntVar(&config.Funnel.SweepSeconds, "sweep-seconds", 0, "Expiry sweep interval (0 = lazy expiry only)")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.AdminPort, "admin-port", "", "Admin API port")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.AdminBind, "admin-bind", "", "Admin API bind")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.PubPort, "pub-port", "", "Public API port")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.PubBind, "pub-bind", "", "Public API bind")
	rootCmd.PersistentFlags().StringVar(&config.Store.DBFile, "store-db-file", "", "Store DB file")
	// Bind flags to config fields
	viper.BindPFlags(rootCmd.PersistentFlags())

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the railpay server",
		Run: func(cmd *cobra.Command, args []string) {
			Server(config)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, args []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)

	// Execute the Cobra command
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}

}

func LoadConfig(config *rail.Config) {

	configFileName, set := os.LookupEnv("RAILPAY_ENV")
	if set {
		viper.SetConfigName(configFileName)
	} else {
		viper.SetConfigName("config")
	}

	// Set config file name and search paths
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/railpay/")
	viper.AddConfigPath("$HOME/.railpay")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("failed to find config file: ", err)
		os.Exit(1)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %s", err))
	}
}
