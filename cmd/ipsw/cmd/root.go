/*
Copyright © 2018-2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/restoregoose/idevicerestore/pkg/restore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// verbose increments logging verbosity by one level (apex/log's default
	// Info to Debug).
	verbose bool
	// debug sets maximum logging verbosity and dumps re-signed components to
	// the CWD alongside the extracted filesystem image.
	debug bool
	// custom skips C3 signature substitution, pushing archive bytes verbatim.
	custom bool
	// udid targets a specific attached device; empty matches whichever one
	// shows up first.
	udid string
)

// rootCmd is the single, flat command this CLI exposes: the flag grammar
// `prog [-v] [-d] [-c] [-u UUID] FILE` has no room for a subcommand tree.
var rootCmd = &cobra.Command{
	Use:   "idevicerestore FILE",
	Short: "Restore a firmware bundle onto an attached device",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		switch {
		case debug:
			log.SetLevel(log.DebugLevel)
		case verbose:
			log.SetLevel(log.DebugLevel)
		}

		return restore.Run(&restore.Config{
			BundlePath: args[0],
			UDID:       udid,
			Custom:     custom,
			Debug:      debug,
		})
	},
}

// Execute runs the root command and exits non-zero on error. This is called
// by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/idevicerestore/config.yaml)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "maximum verbosity; also dumps re-signed components to the cwd")
	rootCmd.Flags().BoolVarP(&custom, "custom", "c", false, "custom mode: skip signature substitution")
	rootCmd.Flags().StringVarP(&udid, "udid", "u", "", "target a specific device by UDID")
	viper.BindPFlag("verbose", rootCmd.Flags().Lookup("verbose"))
	viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))
	viper.BindPFlag("custom", rootCmd.Flags().Lookup("custom"))
	viper.BindPFlag("udid", rootCmd.Flags().Lookup("udid"))

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "idevicerestore"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("idevicerestore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
