package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaign-cli/internal/model"
	"github.com/sells-group/campaign-cli/internal/orchestrator"
	"github.com/sells-group/campaign-cli/internal/store"
)

var (
	runCriteriaJSON string
	runTarget       int
	runContactsMin  int
	runContactsMax  int
	decideChoice    string
	decideNote      string
	decideCriteria  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create and manage enrichment runs",
}

var runCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new enrichment run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		criteria, err := model.ParseCriteria([]byte(runCriteriaJSON))
		if err != nil {
			return err
		}
		if err := criteria.Validate(); err != nil {
			return err
		}
		if runTarget <= 0 {
			return eris.New("--target must be > 0")
		}
		if runContactsMin <= 0 {
			runContactsMin = cfg.Contacts.Min
		}
		if runContactsMax <= 0 {
			runContactsMax = cfg.Contacts.Max
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.CreateRun(cmd.Context(), store.NewRun{
			Criteria:       criteria,
			TargetQuantity: runTarget,
			ContactsMin:    runContactsMin,
			ContactsMax:    runContactsMax,
		})
		if err != nil {
			return err
		}

		fmt.Printf("created run %s (%s, target %d)\n", run.ID, criteria.Summary(), run.TargetQuantity)
		return nil
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show run state and backlog counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if len(args) == 0 {
			runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Limit: 50})
			if err != nil {
				return err
			}
			return enc.Encode(runs)
		}

		run, err := st.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		counts, err := st.GetRunCounts(cmd.Context(), run.ID, cfg.Contacts.MaxAttempts)
		if err != nil {
			return err
		}
		return enc.Encode(map[string]any{"run": run, "counts": counts})
	},
}

var runDecideCmd = &cobra.Command{
	Use:   "decide <run-id>",
	Short: "Resolve a run waiting on an operator decision",
	Long:  "Answers a needs_user_decision run: accept_partial completes it with what it has; broaden_scope and relax_constraint resume it, optionally with replacement criteria from --criteria.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		decision, err := orchestrator.ParseDecision(decideChoice)
		if err != nil {
			return err
		}

		var criteria model.Criteria
		if decideCriteria != "" {
			criteria, err = model.ParseCriteria([]byte(decideCriteria))
			if err != nil {
				return err
			}
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		orch := orchestrator.New(st, initNotifier(), orchestrator.Config{
			OversampleFactor:   cfg.Discovery.OversampleFactor,
			MaxCloseAttempts:   cfg.Orchestrator.MaxCloseAttempts,
			MaxContactAttempts: cfg.Contacts.MaxAttempts,
		})
		if err := orch.Decide(cmd.Context(), args[0], decision, decideNote, criteria); err != nil {
			return err
		}

		fmt.Printf("recorded decision %s for run %s\n", decision, args[0])
		return nil
	},
}

func init() {
	runCreateCmd.Flags().StringVar(&runCriteriaJSON, "criteria", "{}", `criteria JSON, e.g. '{"city":"Austin","vertical":"HVAC"}'`)
	runCreateCmd.Flags().IntVar(&runTarget, "target", 25, "qualified companies to deliver")
	runCreateCmd.Flags().IntVar(&runContactsMin, "contacts-min", 0, "minimum contacts per promoted company (default from config)")
	runCreateCmd.Flags().IntVar(&runContactsMax, "contacts-max", 0, "maximum contacts per promoted company (default from config)")

	runDecideCmd.Flags().StringVar(&decideChoice, "decision", "", "accept_partial, broaden_scope, or relax_constraint (required)")
	runDecideCmd.Flags().StringVar(&decideNote, "note", "", "free-form note recorded with the decision")
	runDecideCmd.Flags().StringVar(&decideCriteria, "criteria", "", "replacement criteria JSON for resume decisions")
	runDecideCmd.MarkFlagRequired("decision")

	runCmd.AddCommand(runCreateCmd, runStatusCmd, runDecideCmd)
	rootCmd.AddCommand(runCmd)
}
