package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/framework"
	"github.com/robotalks/etee.go/pkg/server"
)

func serveFlags(cmd *cobra.Command) {
	config.AddFlags(cmd.Flags())
}

var serveCmd = &cobra.Command{
	Use:        "serve",
	SuggestFor: []string{"ru", "run", "ser"},
	Short:      "read the dongle and publish hand poses",
	Long: `serve reads the dongle and publishes hand poses.
The configuration is loaded from:
1. path specified by --config
2. path in ETEE_CONFIG environment variable
3. $HOME/.config/etee/config.yaml, /etc/etee/config.yaml, current directory
and overridden by ETEE_* environment variables and then command line flags.
`,
	Example: `  eteed serve --config=/path/to/config.yaml
  eteed serve -p /dev/ttyACM0 --mqtt mqtt://localhost:1883/etee/ -l :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, v, err := config.Load(cmd.Flags())
		if err != nil {
			return err
		}
		if file := v.ConfigFileUsed(); file != "" {
			glog.Infof("eteed: config %s", file)
		}
		s, err := server.New(conf)
		if err != nil {
			return err
		}
		if addr, err := s.Listen(); err != nil {
			return err
		} else if addr != nil {
			glog.Infof("eteed: listening on %s", addr)
		}
		runner := framework.NewRunner().HandleSignals()
		runner.Go(framework.NamedRun("server", framework.RunFunc(s.Run)))
		return runner.Wait()
	},
}
