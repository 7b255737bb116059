package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"btstest/internal/version"
)

// addVersionCommand adds the version command
func (app *App) addVersionCommand(rootCmd *cobra.Command) {
	var detailed, asYAML bool

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Print the btstest version. --detailed adds build details, --yaml prints them machine readable.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			switch {
			case asYAML:
				info, err := version.GetInfo()
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(out)
				defer func() { _ = enc.Close() }()
				return enc.Encode(info)
			case detailed:
				_, err := fmt.Fprintln(out, version.Detailed())
				return err
			default:
				_, err := fmt.Fprintln(out, version.Short())
				return err
			}
		},
	}

	versionCmd.Flags().BoolVar(&detailed, "detailed", false, "Show detailed version information")
	versionCmd.Flags().BoolVar(&asYAML, "yaml", false, "Print build information as YAML")
	rootCmd.AddCommand(versionCmd)
}
