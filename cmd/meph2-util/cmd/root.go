// Package cmd implements the meph2-util command line.
package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meph2-util",
	Short: "meph2-util maintains simplestreams image catalogs",
	Long: `meph2-util maintains simplestreams "products:1.0" image catalogs: it
inserts new content, promotes versions between lifecycle labels
(daily/candidate/release), diffs and patches catalog trees, collects
orphaned files, and keeps the signed index up to date.

Mutations are atomic from the perspective of a crash: files are staged,
verified against their declared sha256 and only then renamed into place.`,
}

var config *CLIConfig

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)
	addLogLevelFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("grace", "3d")
	if os.Getenv("MEPH2_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("MEPH2_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".meph2-util")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using config file:", viper.ConfigFileUsed())
	}
	var err error
	config, err = newConfig()
	if err != nil {
		logFatalln(err)
	}
	config.setDefaults(&mephFlags)
}
