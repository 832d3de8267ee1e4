package cli

import (
	"encoding/json"
	"fmt"

	"github.com/gurssagar/finalicp-sub006/internal/account"
	"github.com/gurssagar/finalicp-sub006/internal/config"
	"github.com/gurssagar/finalicp-sub006/internal/models"
	"github.com/gurssagar/finalicp-sub006/internal/services"
	"github.com/spf13/cobra"
)

func newEscrowCmd() *cobra.Command {
	escrowCmd := &cobra.Command{
		Use:   "escrow",
		Short: "Inspect escrow accounts offline",
	}

	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the deposit account of an escrow",
		Long: `Derive the deposit account for an escrow id without contacting the service.
On TON the subaccount hex is the comment a payer must attach to the deposit.`,
		Args: cobra.NoArgs,
		RunE: runEscrowDerive,
	}
	deriveCmd.Flags().String("id", "", "Escrow id")
	deriveCmd.Flags().String("owner", "", "Custody owner (defaults to ESCROW_CUSTODY_OWNER)")
	_ = deriveCmd.MarkFlagRequired("id")

	escrowCmd.AddCommand(deriveCmd)
	return escrowCmd
}

type derivedAccount struct {
	EscrowID    string         `json:"escrow_id"`
	Account     models.Account `json:"deposit_account"`
	ReleaseMemo string         `json:"release_memo"`
	RefundMemo  string         `json:"refund_memo"`
}

func runEscrowDerive(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = config.Load().CustodyOwner
	}
	if owner == "" {
		return fmt.Errorf("--owner or ESCROW_CUSTODY_OWNER is required")
	}

	out := derivedAccount{
		EscrowID:    id,
		Account:     account.Derive(models.Principal(owner), id),
		ReleaseMemo: services.SettlementMemo(models.EscrowStatusReleased, id),
		RefundMemo:  services.SettlementMemo(models.EscrowStatusRefunded, id),
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
