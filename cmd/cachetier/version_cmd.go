package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachetier/cachetier/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cachetier version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s %s\n", rootCmd.Name(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
