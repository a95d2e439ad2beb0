package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/evetabi/lendpool/internal/domain"
)

// tokenFile is the layout accepted by `lendctl tokens import`:
//
//	tokens:
//	  - token_id: usdc.token
//	    decimals: 6
//	  - token_id: weth.token
//	    decimals: 18
type tokenFile struct {
	Tokens []domain.TokenInfo `yaml:"tokens"`
}

func readTokenFile(r io.Reader) ([]domain.TokenInfo, error) {
	var f tokenFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if len(f.Tokens) == 0 {
		return nil, fmt.Errorf("parse token file: no tokens listed")
	}
	return f.Tokens, nil
}

func newTokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "manage the supported token registry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "print every supported token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				tokens, err := e.svcs.Tokens.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tokens)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "import <file.yaml>",
		Short:   "register the tokens listed in a YAML file",
		Example: "lendctl tokens import configs/tokens.example.yaml",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			tokens, err := readTokenFile(f)
			if err != nil {
				return err
			}
			return withEnv(cmd, func(ctx context.Context, e *env) error {
				added, err := e.svcs.Tokens.Add(ctx, tokens)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tokens added\n", len(added), len(tokens))
				for _, id := range added {
					fmt.Fprintln(cmd.OutOrStdout(), "  +", id)
				}
				return nil
			})
		},
	})
	return cmd
}
