package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"cellarena.io/internal/persistence/indexdb"
)

func sessionsCmd() *cobra.Command {
	var (
		dataDir string
		dbPath  string
		limit   int
		user    string
	)
	cmd := &cobra.Command{
		Use:       "sessions [kind]",
		Short:     "Query the session index (joins, leaves, eliminations, rejects)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: indexdb.Kinds(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "joins"
			if len(args) > 0 {
				kind = strings.TrimSpace(args[0])
			}
			path := strings.TrimSpace(dbPath)
			if path == "" {
				path = filepath.Join(dataDir, "index", "sessions.sqlite")
			}

			db, err := indexdb.OpenReader(path)
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			defer db.Close()

			rows, err := indexdb.Recent(db, kind, strings.TrimSpace(user), limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if err := printJSON(cmd.OutOrStdout(), r); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite db path (defaults to <data>/index/sessions.sqlite)")
	cmd.Flags().IntVar(&limit, "limit", 20, "result limit")
	cmd.Flags().StringVar(&user, "user", "", "filter by username")
	return cmd
}
