package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/opensource-finance/findex/internal/domain"
	"github.com/opensource-finance/findex/internal/report"
	"github.com/opensource-finance/findex/internal/rulefile"
	"github.com/opensource-finance/findex/internal/rules"
	"github.com/opensource-finance/findex/internal/scheduler"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	rulesFile string
	logLevel  string
}

// NewRootCmd builds the findex command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "findex",
		Short:   "Per-deck forgetting index scheduling",
		Long:    "findex reschedules review intervals so that matched cards are forgotten at\nthe rate configured for their deck, tags and maturity.",
		Version: fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.logLevel != "" {
				slog.SetDefault(newLogger(domain.LoggingConfig{Level: opts.logLevel, Format: "text"}))
			}
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.rulesFile, "rules", "", "rule file (default "+rulefile.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newLookupCmd(opts),
		newRescheduleCmd(),
		newReplayCmd(),
	)
	return rootCmd
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
}

// loadRuleFile reads the rule file, writing the default template first if it
// does not exist.
func loadRuleFile(path string) (string, error) {
	text, created, err := rulefile.Load(path)
	if err != nil {
		return "", err
	}
	if created {
		slog.Info("created default rule file", "path", path)
	}
	return text, nil
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var helpRules bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Parse the rule file and report invalid lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if helpRules {
				fmt.Fprint(out, rules.HelpText)
				return nil
			}

			path := rulefile.Resolve(opts.rulesFile)
			text, err := loadRuleFile(path)
			if err != nil {
				return err
			}

			set, diags := rules.Parse(text, nil)
			for _, rule := range set.Rules() {
				fmt.Fprintf(out, "line %d: %s\n", rule.Line, rule.Source)
			}
			for _, d := range diags {
				fmt.Fprintf(out, "line %d: invalid (%s): %s\n", d.Line, d.Reason, d.Text)
			}
			fmt.Fprintf(out, "%s: %d rules, %d invalid\n", path, set.Len(), len(diags))

			if len(diags) > 0 {
				return fmt.Errorf("%d invalid rules", len(diags))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&helpRules, "help-rules", false, "describe the rule language")
	return cmd
}

// itemFlags describe a card on the command line.
type itemFlags struct {
	id       string
	deck     string
	tags     string
	model    string
	maturity string
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "card ID")
	cmd.Flags().StringVar(&f.deck, "deck", "", "deck name")
	cmd.Flags().StringVar(&f.tags, "tags", "", "space separated card tags")
	cmd.Flags().StringVar(&f.model, "model", "", "note type name")
	cmd.Flags().StringVar(&f.maturity, "maturity", string(domain.MaturityYoung), "new, young or mature")
	_ = cmd.MarkFlagRequired("deck")
}

func (f *itemFlags) item() (domain.Item, error) {
	maturity, ok := domain.ParseMaturity(f.maturity)
	if !ok {
		return domain.Item{}, fmt.Errorf("invalid maturity %q", f.maturity)
	}
	return domain.Item{
		ID:       f.id,
		Deck:     f.deck,
		Tags:     strings.Fields(f.tags),
		Model:    f.model,
		Maturity: maturity,
	}, nil
}

func newLookupCmd(opts *rootOptions) *cobra.Command {
	var flags itemFlags

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show which rule decides a card's forgetting index",
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := flags.item()
			if err != nil {
				return err
			}

			text, err := loadRuleFile(rulefile.Resolve(opts.rulesFile))
			if err != nil {
				return err
			}
			store := rules.NewStore(domain.DefaultCollectionID, rules.LogSink{}, nil)
			store.Reload(text)

			out := cmd.OutOrStdout()
			if rule, ok := store.Winner(item); ok {
				fmt.Fprintf(out, "rule: line %d: %s\n", rule.Line, rule.Source)
			} else {
				fmt.Fprintln(out, "rule: none")
			}
			fmt.Fprint(out, report.New(store).Report(item).String())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// percentFlag is a flag holding a forgetting index in percent, written the
// same way as in the rule file ("5", "5%", "2.5%").
type percentFlag float64

func (p *percentFlag) String() string {
	return strconv.FormatFloat(float64(*p), 'g', -1, 64)
}

func (p *percentFlag) Set(s string) error {
	v, ok := rules.ParsePercent(s)
	if !ok {
		return fmt.Errorf("%q is not a percentage", s)
	}
	*p = percentFlag(v)
	return nil
}

func (p *percentFlag) Type() string {
	return "percent"
}

func newRescheduleCmd() *cobra.Command {
	var interval float64
	var target percentFlag
	baseline := percentFlag(domain.DefaultBaselineFI)

	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Convert an interval between forgetting indexes (in percent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			adjusted, err := scheduler.Reschedule(interval, float64(target)/100, float64(baseline)/100)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.4f\n", adjusted)
			return nil
		},
	}
	cmd.Flags().Float64Var(&interval, "interval", 0, "interval in days scheduled at the baseline index")
	cmd.Flags().Var(&target, "target", "target forgetting index in percent")
	cmd.Flags().Var(&baseline, "baseline", "baseline forgetting index in percent")
	_ = cmd.MarkFlagRequired("interval")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
