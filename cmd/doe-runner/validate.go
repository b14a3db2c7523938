package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCasesFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a cases file without executing it",
	RunE:  validateCases,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateCasesFile, "cases", "", "cases file (CSV or YAML)")

	_ = validateCmd.MarkFlagRequired("cases")
}

func validateCases(cmd *cobra.Command, args []string) error {
	cs, errs, err := loadAndValidate(validateCasesFile)
	if err != nil {
		return err
	}

	if len(errs) > 0 {
		for _, e := range errs {
			log.Error(e)
		}

		return fmt.Errorf("cases file %s has %d validation errors", validateCasesFile, len(errs))
	}

	log.WithField("cases", len(cs)).Info("Cases file is valid")

	return nil
}
