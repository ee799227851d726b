package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bountyboard/internal/app"
	"bountyboard/internal/config"
	"bountyboard/internal/contracts"
	"bountyboard/internal/escrow"
)

type contractView struct {
	Mode          string `yaml:"mode"`
	Contract      string `yaml:"contract,omitempty"`
	Chain         string `yaml:"chain,omitempty"`
	Explorer      string `yaml:"explorer,omitempty"`
	Owner         string `yaml:"owner"`
	BountyCount   uint64 `yaml:"bountyCount"`
	PlatformFee   uint64 `yaml:"platformFeeBps"`
	FeesCollected string `yaml:"feesCollected"`
}

func contractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contract",
		Short: "Print the bounty board's views",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				return errors.New("no config found in context")
			}
			ctx := cmd.Context()

			view := contractView{Mode: cfg.Chain.Mode}
			var client escrow.Client
			if cfg.Chain.Mode == config.ModeChain {
				eth, err := escrow.NewEthClient(ctx, escrow.EthClientConfig{
					RPCURL:          cfg.Chain.RPCURL,
					ContractAddress: cfg.Chain.Contract,
					ChainID:         cfg.Chain.ChainID,
				})
				if err != nil {
					return err
				}
				client = eth
				view.Contract = eth.Address().Hex()
				if chain, ok := contracts.LookupChain(eth.ChainID().Uint64()); ok {
					view.Chain = chain.Name
					view.Explorer = chain.AddressURL(view.Contract)
				} else {
					view.Chain = eth.ChainID().String()
				}
			} else {
				a, err := app.Build(ctx, cfg)
				if err != nil {
					return err
				}
				defer a.Close()
				client = a.Client
			}

			info, err := client.Info(ctx)
			if err != nil {
				return err
			}
			view.Owner = info.Owner.Hex()
			view.BountyCount = info.BountyCount
			view.PlatformFee = info.PlatformFee
			view.FeesCollected = info.FeesCollected.String()
			return printYAML(cmd.OutOrStdout(), view)
		},
	}
}

func chainsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List known networks",
		// Needs no configuration.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			for _, c := range contracts.Chains() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", c.ID, c.Name, c.Explorer)
			}
		},
	}
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
