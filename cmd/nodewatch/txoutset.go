package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

// runTxOutSet fetches the UTXO-set statistic once and prints it as JSON.
// This is the expensive call the watch subcommand caches; here it is issued
// directly.
func runTxOutSet(cmd *cobra.Command, _ []string) error {
	client, ctx, cleanup, err := oneShotClient(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	info, err := client.TxOutSetInfo(ctx)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}
