package cmd

import (
	"os"

	"github.com/BioHazard786/huddle/internal/ui"
	"github.com/BioHazard786/huddle/internal/version"
	"github.com/spf13/cobra"
)

var flagConfigFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "huddle",
	Short:   "Join WebRTC rooms from the terminal: share a screen, talk to presenters, chat",
	Long:    `Huddle connects to a room signaling server and keeps one direct WebRTC link per participant. Up to two participants present at once; viewers can open a private audio channel to a presenter. The connection survives network drops with exponential backoff and rejoins the room automatically.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file (default ./huddle.yaml or ~/.config/huddle/huddle.yaml)")
}
