package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aren-assistant/aren/internal/aren/app"
	"github.com/aren-assistant/aren/internal/aren/nlp"
	"github.com/aren-assistant/aren/internal/aren/normalize"
)

func newClassifyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <utterance>...",
		Short: "Show how utterances are normalised and scored, without running skills",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			offline(&cfg)
			a, err := app.New(cfg, app.WithLogger(opts.quietLogger(cmd.ErrOrStderr(), cfg)))
			if err != nil {
				return err
			}
			defer a.Close()

			for _, text := range args {
				printClassification(cmd, a.Classifier(), text)
			}
			return nil
		},
	}
}

func printClassification(cmd *cobra.Command, c *nlp.Classifier, text string) {
	out := cmd.OutOrStdout()
	stream, lang := normalize.Normalize(text)
	res := c.Classify(stream, lang)

	fmt.Fprintln(out, headerStyle.Render(text))
	fmt.Fprintln(out, metaStyle.Render(fmt.Sprintf("  lang=%s tokens=[%s] cue=%v", lang, strings.Join(stream.Texts(), " "), res.Cue)))
	if res.Empty() && len(res.FollowUps) == 0 {
		fmt.Fprintln(out, "  "+failStyle.Render("no intent"))
	}
	for i, cand := range res.Candidates {
		mark := "  "
		if i == 0 {
			mark = passStyle.Render("▸ ")
		}
		fmt.Fprintf(out, "%s%-11s %.3f  %s", mark, cand.Skill, cand.Confidence, formatSlots(cand.Slots))
		if len(cand.Missing) > 0 {
			fmt.Fprintf(out, "  missing=%s", strings.Join(cand.Missing, ","))
		}
		fmt.Fprintln(out)
	}
	for _, fu := range res.FollowUps {
		fmt.Fprintf(out, "  follow-up %-11s %s\n", fu.Skill, formatSlots(fu.Slots))
	}
	if res.Ambiguous() {
		names := make([]string, len(res.Rivals))
		for i, r := range res.Rivals {
			names[i] = r.Skill
		}
		fmt.Fprintln(out, "  "+failStyle.Render("ambiguous: "+strings.Join(names, " / ")))
	}
}

func formatSlots(slots map[string]string) string {
	if len(slots) == 0 {
		return ""
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + slots[k]
	}
	return "{" + strings.Join(parts, " ") + "}"
}
