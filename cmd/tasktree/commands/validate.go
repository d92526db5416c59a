package commands

import (
	"fmt"
	"os"

	"github.com/openfroyo/tasktree/pkg/config"
	"github.com/openfroyo/tasktree/pkg/engine"
	"github.com/openfroyo/tasktree/pkg/policy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var export bool

	cmd := &cobra.Command{
		Use:   "validate <blueprint>",
		Short: "Validate a blueprint",
		Long: `Validate a blueprint without building a tree.

This command checks:
  - CUE, JSON or YAML syntax
  - Schema conformance
  - Module references and dependency cycles
  - Policy compliance (OPA/rego)`,
		Example: `  # Validate a blueprint
  tasktree validate ./shop.cue

  # Validate and print the normalized blueprint as JSON
  tasktree validate --export shop.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			log.Info().Str("path", path).Msg("Validating blueprint")

			parsed, err := config.NewBlueprintLoader().Parse(ctx, path)
			if err != nil {
				return err
			}

			problems := make([]string, 0, len(parsed.Errors))
			for _, e := range parsed.Errors {
				problems = append(problems, e.String())
			}
			if parsed.Valid() {
				if err := engine.ValidateBlueprint(parsed.Blueprint); err != nil {
					problems = append(problems, err.Error())
				}
			}

			var result *policy.Result
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if parsed.Valid() && len(problems) == 0 {
				pe, err := newPolicyEngine(ctx, cfg, log.Logger)
				if err != nil {
					return err
				}
				if pe != nil {
					if result, err = pe.EvaluateBlueprint(ctx, parsed.Blueprint); err != nil {
						return err
					}
				}
			}
			failOn := failOnSeverity(cfg)

			if export && len(problems) == 0 {
				doc, err := config.NewCUEParser().ExportJSON(parsed.Blueprint)
				if err != nil {
					return err
				}
				_, _ = os.Stdout.Write(append(doc, '\n'))
			} else if jsonOutput {
				if err := printJSON(map[string]interface{}{
					"source_files": parsed.SourceFiles,
					"errors":       problems,
					"policy":       result,
				}); err != nil {
					return err
				}
			} else {
				for _, p := range problems {
					fmt.Printf("error: %s\n", p)
				}
				if result != nil {
					for _, v := range result.Violations {
						where := ""
						if v.ModuleID != "" {
							where = " [" + v.ModuleID + "]"
						}
						fmt.Printf("%s: %s%s: %s\n", v.Severity, v.Policy, where, v.Message)
					}
					for _, w := range result.Warnings {
						fmt.Printf("warning: %s\n", w)
					}
				}
			}

			if len(problems) > 0 {
				return fmt.Errorf("blueprint %s has %d error(s)", path, len(problems))
			}
			if result != nil && !result.Allowed(failOn) {
				return fmt.Errorf("blueprint %s denied by %d policy violation(s)", path, len(result.Blocking(failOn)))
			}
			if !export && !jsonOutput {
				fmt.Printf("Blueprint %s is valid\n", parsed.Blueprint.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "print the normalized blueprint as JSON")

	return cmd
}
