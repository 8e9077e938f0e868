package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"forecast-sender/internal/report"
)

var (
	facilitiesOutput string
	facilitiesLookup []string
)

// facilitiesCmd logs in, lists the facility map and resolves customer names against it.
var facilitiesCmd = &cobra.Command{
	Use:   "facilities",
	Short: "List portal facilities, export the map or resolve customer names",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		login, err := a.session.Login(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user %d, group %d, %d facilities\n", login.UserID, login.GroupID, login.Facilities.Len())

		if len(facilitiesLookup) == 0 && facilitiesOutput == "" {
			for _, f := range login.Facilities.Entries() {
				fmt.Fprintf(out, "%6d  %s\n", f.ID, f.Name)
			}
		}
		for _, name := range facilitiesLookup {
			if f, ok := login.Facilities.Lookup(name); ok {
				fmt.Fprintf(out, "%q -> %d (%s)\n", name, f.ID, f.Name)
			} else {
				fmt.Fprintf(out, "%q -> not found\n", name)
			}
		}

		if facilitiesOutput == "" {
			return nil
		}
		var data []byte
		switch strings.ToLower(filepath.Ext(facilitiesOutput)) {
		case ".json":
			data, err = report.BuildFacilityJSON(login, time.Now())
		case ".xlsx":
			data, err = report.BuildFacilityXLSX(login)
		default:
			return fmt.Errorf("unsupported output extension %q (use .json or .xlsx)", filepath.Ext(facilitiesOutput))
		}
		if err != nil {
			return err
		}
		if err := os.WriteFile(facilitiesOutput, data, 0o644); err != nil {
			return err
		}
		a.logger.Info().Str("path", facilitiesOutput).Int("facilities", login.Facilities.Len()).Msg("facility map saved")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(facilitiesCmd)

	facilitiesCmd.Flags().StringVarP(&facilitiesOutput, "output", "o", "", "Export the map (.json or .xlsx)")
	facilitiesCmd.Flags().StringArrayVar(&facilitiesLookup, "lookup", nil, "Resolve a customer name (repeatable)")
}
