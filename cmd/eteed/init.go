package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/robotalks/etee.go/pkg/config"
	"github.com/robotalks/etee.go/pkg/etee"
)

func initFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("print", false, "print config to stdout")
	cmd.Flags().BoolP("yes", "y", false, "overwrite")
	cmd.Flags().StringP("output", "o", config.DefaultPath(), "output path")
	cmd.Flags().String("schema", "", "also write the built-in data packet schema to the path")
}

var initCmd = &cobra.Command{
	Use:        "init",
	SuggestFor: []string{"in", "ini"},
	Short:      "create a configuration template",
	Long: `init creates a configuration template with the defaults.
If --print is present, the configuration is printed to stdout.
Otherwise it is written to --output, $HOME/.config/etee/config.yaml by default.
An existing file is only overwritten with --yes.
`,
	Example: `  eteed init --print
  eteed init -o /path/to/config.yaml -y
  eteed init --print --schema ./schema.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		printOnly, _ := cmd.Flags().GetBool("print")
		overwrite, _ := cmd.Flags().GetBool("yes")
		output, _ := cmd.Flags().GetString("output")
		schemaPath, _ := cmd.Flags().GetString("schema")

		conf := config.NewConfig()
		if schemaPath != "" {
			if err := writeFile(schemaPath, etee.SchemaYAML(), overwrite); err != nil {
				return err
			}
			conf.Schema = schemaPath
		}
		if printOnly {
			data, err := conf.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := conf.Save(output, overwrite); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", output)
		return nil
	},
}

func writeFile(path string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", config.ErrExists, path)
		}
	}
	return os.WriteFile(path, data, 0644)
}
