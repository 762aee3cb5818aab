package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/rlsguard/internal/update"
	"github.com/pthm/rlsguard/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())
		if !versionCheck {
			return nil
		}

		info, err := update.NewChecker(version.Version).Check(cmd.Context())
		if err != nil {
			return err
		}
		if info.UpdateAvailable {
			fmt.Printf("rlsguard %s is available: %s\n", info.LatestVersion, info.ReleaseURL)
		} else {
			fmt.Println("rlsguard is up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check whether a newer release exists")
}
