package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prospector-io/prospector/config"
	"github.com/prospector-io/prospector/internal/agent"
	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/internal/keywords"
	"github.com/prospector-io/prospector/models"
)

type fakeSource struct {
	posts map[string][]models.Post
	err   map[string]error
}

func (f *fakeSource) NewPosts(ctx context.Context, subreddit string, limit int) ([]models.Post, error) {
	if err := f.err[subreddit]; err != nil {
		return nil, err
	}
	return f.posts[subreddit], nil
}

type fakeStore struct {
	seen          map[string]bool
	analyzed      []string
	opportunities []models.Opportunity
	decisions     []models.DecisionQueueItem
	audits        []models.AuditEntry
	subreddits    []models.Subreddit
	kws           []models.Keyword
}

func (f *fakeStore) ListActiveSubreddits(ctx context.Context) ([]models.Subreddit, error) {
	return f.subreddits, nil
}
func (f *fakeStore) ListActiveKeywords(ctx context.Context) ([]models.Keyword, error) {
	return f.kws, nil
}
func (f *fakeStore) RegisterScannedPost(ctx context.Context, post models.Post, score int) (bool, error) {
	if f.seen[post.ID] {
		return false, nil
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[post.ID] = true
	return true, nil
}
func (f *fakeStore) MarkPostAnalyzed(ctx context.Context, postID string) error {
	f.analyzed = append(f.analyzed, postID)
	return nil
}
func (f *fakeStore) CreateOpportunity(ctx context.Context, o models.Opportunity) (string, error) {
	f.opportunities = append(f.opportunities, o)
	return "opp-1", nil
}
func (f *fakeStore) EnqueueDecision(ctx context.Context, item models.DecisionQueueItem) (string, error) {
	f.decisions = append(f.decisions, item)
	return "dec-1", nil
}
func (f *fakeStore) AppendAudit(ctx context.Context, e models.AuditEntry) error {
	f.audits = append(f.audits, e)
	return nil
}

// Guardrail fakes: no rule rows, clean history, so only built-in defaults
// apply.
type emptyRules struct{}

func (emptyRules) ListActiveGuardrails(ctx context.Context) ([]models.Guardrail, error) {
	return nil, nil
}

type cleanHistory struct{}

func (cleanHistory) CountResponsesSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}
func (cleanHistory) CountSubredditResponsesSince(ctx context.Context, sub string, since time.Time) (int, error) {
	return 0, nil
}
func (cleanHistory) LastResponseAt(ctx context.Context, sub string) (*time.Time, error) {
	return nil, nil
}
func (cleanHistory) CountCampaignsCreatedSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}
func (cleanHistory) ActiveDailySpendCents(ctx context.Context) (int64, error) { return 0, nil }

type fakeInvestigator struct {
	outcomes     map[string]agent.Outcome
	err          map[string]error
	investigated []string
}

func (f *fakeInvestigator) Investigate(ctx context.Context, c models.Candidate) (agent.Outcome, error) {
	f.investigated = append(f.investigated, c.Post.ID)
	if err := f.err[c.Post.ID]; err != nil {
		return agent.Outcome{}, err
	}
	return f.outcomes[c.Post.ID], nil
}

func freshPost(id, title string, comments int) models.Post {
	return models.Post{
		ID:          id,
		Subreddit:   "smallbusiness",
		Title:       title,
		Body:        strings.Repeat("context about our operation and what we need. ", 5),
		NumComments: comments,
		CreatedAt:   time.Now().Add(-time.Hour),
		Permalink:   "/r/smallbusiness/" + id,
	}
}

func submittedOutcome(draft string) agent.Outcome {
	return agent.Outcome{
		Terminal: agent.TerminalSubmitted,
		Submission: &agent.Submission{
			Classification: "hot_lead",
			Scores:         agent.Layer2Scores{Intent: 90, Urgency: 80, Fit: 85, Authority: 70, Engagement: 60},
			IntentAnalysis: "actively comparing vendors",
			DraftResponse:  draft,
			Summary:        "author has budget and a deadline",
		},
		Iterations: 3,
		ToolsUsed:  []string{agent.ToolReadComments},
	}
}

func newTestOrchestrator(src *fakeSource, st *fakeStore, inv *fakeInvestigator, cfg config.ScanConfig) *Orchestrator {
	cache := keywords.NewCache(st, time.Minute)
	engine := guardrails.NewEngine(emptyRules{}, cleanHistory{}, config.GuardrailsConfig{}, "prospector")
	return New(src, st, cache, engine, inv, nil, cfg, nil)
}

func baseStore() *fakeStore {
	return &fakeStore{
		subreddits: []models.Subreddit{{Name: "smallbusiness", Tier: models.TierHigh, Priority: 1, IsActive: true}},
		kws:        []models.Keyword{{ID: 1, Term: "erp", Weight: models.WeightHigh, IsActive: true}},
	}
}

func TestScanSkipsAlreadyScannedPosts(t *testing.T) {
	st := baseStore()
	st.seen = map[string]bool{"t3_old": true}
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_old", "which ERP should I pick?", 0)},
	}}
	inv := &fakeInvestigator{}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if res.NewPosts != 0 || res.Candidates != 0 {
		t.Fatalf("dedup failed: %+v", res)
	}
	if len(inv.investigated) != 0 {
		t.Fatalf("already-scanned post was investigated")
	}
}

func TestScanInvestigatesOnlyTopN(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {
			freshPost("t3_weak", "thinking about erp someday", 30),
			freshPost("t3_strong", "which ERP should I pick?", 0),
		},
	}}
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{
		"t3_strong": {Terminal: agent.TerminalSkipped, SkipReason: "no buying intent"},
	}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{Layer2TopN: 1})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if res.Candidates != 2 {
		t.Fatalf("candidates = %d, want 2 above threshold", res.Candidates)
	}
	if len(inv.investigated) != 1 || inv.investigated[0] != "t3_strong" {
		t.Fatalf("investigated %v, want only the top-scored post", inv.investigated)
	}
	if len(st.analyzed) != 1 || st.analyzed[0] != "t3_strong" {
		t.Fatalf("analyzed %v, want exactly the investigated post", st.analyzed)
	}
}

func TestScanPersistsSubmittedOpportunity(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
	}}
	draft := "We went through the same evaluation last year; the thing that mattered most for us was inventory sync across locations. Happy to share what questions we asked vendors."
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{"t3_abc": submittedOutcome(draft)}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if res.Opportunities != 1 || len(st.opportunities) != 1 {
		t.Fatalf("opportunities = %d, want 1", res.Opportunities)
	}
	opp := st.opportunities[0]
	if opp.Status != models.OpportunityDrafted {
		t.Fatalf("status = %s, want response_drafted for a clean draft", opp.Status)
	}
	if opp.Layer2Score == nil || *opp.Layer2Score != 80 {
		t.Fatalf("layer2 score = %v, want 80", opp.Layer2Score)
	}
	if len(st.decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(st.decisions))
	}
	d := st.decisions[0]
	if d.Type != models.DecisionDraftResponse {
		t.Fatalf("decision type = %s", d.Type)
	}
	// combined = round(L1*0.3 + 80*0.7); L1 is high here, so priority lands
	// in the top bucket with low risk.
	if d.Priority < 8 || d.RiskLevel != "low" {
		t.Fatalf("priority/risk = %d/%s", d.Priority, d.RiskLevel)
	}
}

func TestScanDiscardsBlockedDraft(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
	}}
	// Prohibited phrase plus URL: blocked twice over.
	draft := "Buy now at prospector.com for a special offer, this is exactly what you need for your business today."
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{"t3_abc": submittedOutcome(draft)}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	if _, err := o.RunScan(context.Background()); err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if len(st.opportunities) != 1 {
		t.Fatalf("opportunity must still be persisted without the draft")
	}
	opp := st.opportunities[0]
	if opp.Status != models.OpportunityNew {
		t.Fatalf("status = %s, want new after draft discard", opp.Status)
	}
	if opp.DraftResponse != "" {
		t.Fatalf("blocked draft was persisted")
	}
	if opp.QualityNote == "" {
		t.Fatalf("discard must leave a quality note")
	}
	if len(st.decisions) != 0 {
		t.Fatalf("a discarded draft must not reach the review queue, got %d items", len(st.decisions))
	}
	var violationAudits int
	for _, a := range st.audits {
		if a.Action == "guardrail_check" && a.Outcome == "violation" {
			violationAudits++
		}
	}
	if violationAudits == 0 {
		t.Fatalf("guardrail violations missing from audit log")
	}
}

func TestScanPersistsSkippedOpportunity(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
	}}
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{
		"t3_abc": {
			Terminal:   agent.TerminalSkipped,
			SkipReason: "no buying intent",
			Iterations: 2,
			ToolsUsed:  []string{agent.ToolReadComments},
		},
	}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if len(st.opportunities) != 1 {
		t.Fatalf("skip must persist an opportunity, got %d", len(st.opportunities))
	}
	opp := st.opportunities[0]
	if opp.Status != models.OpportunitySkipped {
		t.Fatalf("status = %s, want skipped", opp.Status)
	}
	if opp.SkipReason != "no buying intent" {
		t.Fatalf("skip reason = %q", opp.SkipReason)
	}
	if opp.Layer2Score != nil {
		t.Fatalf("a skip carries no layer-2 score")
	}
	if res.Opportunities != 0 {
		t.Fatalf("skips do not count as actionable opportunities, got %d", res.Opportunities)
	}
	if len(st.decisions) != 0 {
		t.Fatalf("skips must not enqueue review items")
	}
}

func TestScanSubmissionWithoutDraftNotEnqueued(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
	}}
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{"t3_abc": submittedOutcome("")}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	if _, err := o.RunScan(context.Background()); err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if len(st.opportunities) != 1 || st.opportunities[0].Status != models.OpportunityNew {
		t.Fatalf("draftless submission must persist a new opportunity")
	}
	if len(st.decisions) != 0 {
		t.Fatalf("review queue only takes items with a passing draft, got %d", len(st.decisions))
	}
}

func TestScanContainsInvestigationFailure(t *testing.T) {
	st := baseStore()
	src := &fakeSource{posts: map[string][]models.Post{
		"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
	}}
	inv := &fakeInvestigator{err: map[string]error{"t3_abc": errors.New("model backend down")}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("a failed investigation must not fail the scan: %v", err)
	}
	if res.Errors != 1 {
		t.Fatalf("errors = %d, want 1", res.Errors)
	}
	// Failed candidates are still marked analyzed so they are not retried
	// every cycle.
	if len(st.analyzed) != 1 || st.analyzed[0] != "t3_abc" {
		t.Fatalf("analyzed = %v, want the failed post", st.analyzed)
	}
	found := false
	for _, a := range st.audits {
		if a.Action == "layer2_investigation" && a.Outcome == "failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("failed investigation missing from audit log")
	}
}

func TestScanContainsSubredditFetchFailure(t *testing.T) {
	st := baseStore()
	st.subreddits = append(st.subreddits, models.Subreddit{Name: "broken", Tier: models.TierLow, Priority: 2, IsActive: true})
	src := &fakeSource{
		posts: map[string][]models.Post{
			"smallbusiness": {freshPost("t3_abc", "which ERP should I pick?", 0)},
		},
		err: map[string]error{"broken": errors.New("503")},
	}
	inv := &fakeInvestigator{outcomes: map[string]agent.Outcome{
		"t3_abc": {Terminal: agent.TerminalSkipped, SkipReason: "nothing actionable"},
	}}
	o := newTestOrchestrator(src, st, inv, config.ScanConfig{})

	res, err := o.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if res.SubredditsScanned != 2 || res.Errors != 1 {
		t.Fatalf("result %+v, want both subreddits visited and one error", res)
	}
	if len(inv.investigated) != 1 {
		t.Fatalf("healthy subreddit was not processed")
	}
}
