package cli

import (
	"strings"

	"github.com/BTreeMap/RuleNotify/internal/rules"
	"github.com/spf13/cobra"
)

// NewParseCommand creates the parse command.
func NewParseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <rule text>",
		Short: "Parse a rule and print its structured form",
		Long: `Parse a free-text rule into conditions and actions without evaluating it.

The rule may be passed as one quoted argument or as several words.`,
		Example: `  rulenotify parse "If high risk and intake is incomplete then send SMS"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(rootOpts, strings.Join(args, " "), cmd)
		},
	}
}

func runParse(opts *RootOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	rule, err := rules.Parse(text)
	if err != nil {
		return f.Error(ExitFailure, ErrCodeParse, err.Error(), nil)
	}
	if f.JSON() {
		return f.Success(rule)
	}
	writeRuleText(f.Writer, rule)
	return nil
}
