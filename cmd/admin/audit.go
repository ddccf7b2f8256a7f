package main

import (
	"strings"

	"github.com/spf13/cobra"

	persistlog "cellarena.io/internal/persistence/log"
	"cellarena.io/internal/sim/world"
)

type auditFilter struct {
	action   string
	user     string
	clientID uint32
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if f.action != "" && !strings.EqualFold(f.action, e.Action) {
		return false
	}
	if f.user != "" && f.user != e.Username {
		return false
	}
	if f.clientID != 0 && f.clientID != e.ClientID && f.clientID != e.By {
		return false
	}
	return true
}

func logCmd() *cobra.Command {
	var (
		dataDir string
		f       auditFilter
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print audit log entries (JOIN, LEAVE, ELIMINATED, REJECT)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return persistlog.ReadAudit(persistlog.AuditDir(dataDir), func(e world.AuditEntry) error {
				if !f.match(e) {
					return nil
				}
				return printJSON(out, e)
			})
		},
	}
	cmd.Flags().StringVar(&dataDir, "data", "./data", "runtime data directory")
	cmd.Flags().StringVar(&f.action, "action", "", "only this action")
	cmd.Flags().StringVar(&f.user, "user", "", "only this username")
	cmd.Flags().Uint32Var(&f.clientID, "client", 0, "only entries involving this client id")
	return cmd
}
