package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCredentialsCommand(root *rootOptions) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Show, or with --reset regenerate, the xAPI basic auth credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.close()

			var username, password string
			if reset {
				username, password, err = rt.store.ResetCredentials(cmd.Context())
			} else {
				username, password, err = rt.store.EnsureCredentials(cmd.Context(), rt.cfg.XAPI.Username, rt.cfg.XAPI.Password)
			}
			if err != nil {
				return err
			}
			if reset && (rt.cfg.XAPI.Username != "" || rt.cfg.XAPI.Password != "") {
				rt.logger.Warn("configured credentials override the stored ones at serve time")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "username: %s\npassword: %s\n", username, password)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "generate and store new random credentials")
	return cmd
}
