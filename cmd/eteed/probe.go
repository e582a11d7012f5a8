package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/etee"
)

func probeFlags(cmd *cobra.Command) {
	config.AddFlags(cmd.Flags())
}

var probeCmd = &cobra.Command{
	Use:        "probe",
	SuggestFor: []string{"pr", "pro", "prob"},
	Short:      "print dongle and controller versions",
	Long: `probe opens the dongle and queries the firmware versions of the dongle
and the connected controllers.
`,
	Example: `  eteed probe -p /dev/ttyACM0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, _, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		ctrl, err := conf.NewController()
		if err != nil {
			return err
		}
		if err = ctrl.ConnectWith(conf.Opener()); err != nil {
			return err
		}
		defer ctrl.Disconnect()
		if err = ctrl.Start(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "port: %s\n", conf.Serial.Name)
		if ver, err := ctrl.DongleVersion(); err != nil {
			fmt.Fprintf(out, "dongle: %v\n", err)
		} else {
			fmt.Fprintf(out, "dongle: %s\n", ver)
		}
		vers, err := ctrl.ControllerVersions()
		if err != nil {
			return err
		}
		for _, hand := range etee.Hands {
			ver := vers[hand]
			if ver == "" {
				ver = "-"
			}
			fmt.Fprintf(out, "%s: %s\n", hand, ver)
		}
		return nil
	},
}
