package agent

import (
	"fmt"
	"strings"

	"github.com/prospector-io/prospector/models"
)

func investigationSystemPrompt(maxToolCalls int) string {
	return fmt.Sprintf(`You are a sales-intelligence investigator for a B2B software vendor.

You are given a Reddit post that pre-screening flagged as a potential sales
opportunity. Investigate it with the available tools, then end with exactly
one terminal tool call:
- submit_opportunity when the post represents a genuine opportunity. Score
  each sub-dimension 0-100. Only include draft_response when a helpful,
  non-promotional reply is warranted; never include links or brand names.
- skip_opportunity when it does not.

RULES:
1. You have a budget of %d tool calls. Spend them on the highest-value
   questions first: who is asking, how urgent, what are they evaluating.
2. Every turn must request at least one tool call. Ending a turn without
   one is treated as abandoning the investigation.
3. Before submitting a draft, validate it with evaluate_draft and revise
   if it does not pass.
4. Be skeptical: low-effort posts, karma farming and vendor astroturf are
   skips, not opportunities.`, maxToolCalls)
}

func renderCandidate(c models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "POST UNDER INVESTIGATION\n")
	fmt.Fprintf(&b, "id: %s\nsubreddit: r/%s (tier %s)\nauthor: %s\n", c.Post.ID, c.Post.Subreddit, c.Tier, c.Post.Author)
	fmt.Fprintf(&b, "title: %s\n", c.Post.Title)
	if c.Post.Body != "" {
		fmt.Fprintf(&b, "body: %s\n", c.Post.Body)
	}
	fmt.Fprintf(&b, "score: %d, comments: %d, posted: %s\n", c.Post.Score, c.Post.NumComments, c.Post.CreatedAt.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "pre-screen score: %d (keyword %d, tier %d, freshness %d, engagement %d, quality %d)\n",
		c.Layer1Score, c.Breakdown.Keyword, c.Breakdown.Tier, c.Breakdown.Freshness, c.Breakdown.Engagement, c.Breakdown.Quality)
	if len(c.Matched) > 0 {
		terms := make([]string, 0, len(c.Matched))
		for _, k := range c.Matched {
			terms = append(terms, fmt.Sprintf("%s(%s)", k.Term, k.Weight))
		}
		fmt.Fprintf(&b, "matched keywords: %s\n", strings.Join(terms, ", "))
	}
	return b.String()
}
