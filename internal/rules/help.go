package rules

import (
	"fmt"

	"github.com/opensource-finance/findex/internal/domain"
)

// HelpText describes the rule language for users editing their configuration.
var HelpText = fmt.Sprintf(`The forgetting index is the share of cards you have forgotten by the time
they come up for review. The default scheduler aims at roughly %[1]d%%. These
rules change the target for specific cards or groups of cards.

Each rule is one line with four or five fields separated by %[2]q:

  deck %[2]s tags/model %[2]s condition %[2]s FI [%[2]s original FI]

  deck        deck name, or %[3]q for any deck
  tags/model  tags the card must all have (space or comma separated), or a
              model name, or %[3]q for any
  condition   new, young or mature, or %[3]q for any
  FI          target forgetting index in percent; the %% sign is optional
  original FI forgetting index the default scheduler actually achieves for
              these cards; %[1]d%% when omitted

Lines starting with %[4]q are comments. The LAST rule that matches a card
wins, so put general rules first and specific ones after them.

A forgetting index must be above 0%% and below 100%%. Values under 3%% cause
very frequent reviews for little gain; values above 20-30%% waste time on
relearning.

Examples:

  %[3]s %[2]s %[3]s %[2]s %[3]s %[2]s 5%%
  Japanese %[2]s sentence %[2]s %[3]s %[2]s 15%%
  %[3]s %[2]s %[3]s %[2]s young %[2]s 10%% %[2]s 20%%
`, domain.DefaultBaselineFI, domain.RuleDelimiter, domain.Wildcard, domain.CommentMarker)
