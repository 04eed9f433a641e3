package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/flowgate/internal/policy"
)

var policyInitOut string

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policyInitCmd)
	policyInitCmd.Flags().StringVarP(&policyInitOut, "out", "o", "flowgate.yaml", "Path to write the starter policy")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy document operations",
	Long:  "Commands for validating and scaffolding policy documents.",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Validate a policy document",
	Long: "Parses and validates a policy document (YAML or JSON) and prints its\n" +
		"content hash. Exits 0 if valid, 1 otherwise. Unknown fields and unknown\n" +
		"schema versions are rejected.",
	Args: cobra.ExactArgs(1),
	RunE: runPolicyValidate,
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented starter policy",
	RunE:  runPolicyInit,
}

func runPolicyValidate(cmd *cobra.Command, args []string) error {
	doc, hash, err := policy.LoadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %s (%d tools)\n%s\n", doc.PolicyName, len(doc.Tools), hash)
	return nil
}

func runPolicyInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(policyInitOut); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", policyInitOut)
	}
	if err := os.WriteFile(policyInitOut, []byte(policy.DefaultDocumentYAML()), 0644); err != nil {
		return fmt.Errorf("write %s: %w", policyInitOut, err)
	}
	fmt.Printf("Wrote starter policy to %s\n", policyInitOut)
	return nil
}
