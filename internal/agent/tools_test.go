package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prospector-io/prospector/internal/guardrails"
	"github.com/prospector-io/prospector/models"
)

type fakeReader struct {
	comments []models.Comment
	history  []models.Post
	histErr  error
}

func (f *fakeReader) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	return f.comments, nil
}
func (f *fakeReader) UserHistory(ctx context.Context, username string) ([]models.Post, error) {
	return f.history, f.histErr
}

type fakeToolStore struct {
	searches []string
	posts    []models.Post
}

func (f *fakeToolStore) SearchRelatedPosts(ctx context.Context, query string, since time.Time, limit int) ([]models.Post, error) {
	f.searches = append(f.searches, query)
	return f.posts, nil
}
func (f *fakeToolStore) ActiveCampaigns(ctx context.Context, subreddit string) ([]models.AdCampaign, error) {
	return nil, nil
}
func (f *fakeToolStore) SignalEvents(ctx context.Context, topic string, since time.Time, limit int) ([]models.SignalEvent, error) {
	return nil, nil
}

type fakeValidator struct {
	last guardrails.Draft
}

func (f *fakeValidator) ValidateDraft(ctx context.Context, d guardrails.Draft) (guardrails.Result, error) {
	f.last = d
	return guardrails.Result{Passed: true}, nil
}

func newTestRegistry(reader *fakeReader, store *fakeToolStore, val *fakeValidator) *Registry {
	return NewInvestigationRegistry(ToolDeps{
		Reader:      reader,
		Store:       store,
		Validator:   val,
		Competitors: []string{"acme", "globex"},
	})
}

func TestReadCommentsCapsAndTruncates(t *testing.T) {
	comments := make([]models.Comment, 15)
	for i := range comments {
		comments[i] = models.Comment{ID: "c", Body: strings.Repeat("x", 500)}
	}
	r := newTestRegistry(&fakeReader{comments: comments}, &fakeToolStore{}, &fakeValidator{})

	out, err := r.Execute(context.Background(), call(ToolReadComments, `{"post_id":"t3_abc"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var res struct {
		Count    int              `json:"count"`
		Comments []models.Comment `json:"comments"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Count != 10 {
		t.Fatalf("count = %d, want capped at 10", res.Count)
	}
	if len(res.Comments[0].Body) != 403 {
		t.Fatalf("body length = %d, want 400 + ellipsis", len(res.Comments[0].Body))
	}
}

func TestUserHistoryPrivateIsNonFatal(t *testing.T) {
	r := newTestRegistry(&fakeReader{histErr: models.ErrUserUnavailable}, &fakeToolStore{}, &fakeValidator{})
	out, err := r.Execute(context.Background(), call(ToolUserHistory, `{"username":"ghost"}`))
	if err != nil {
		t.Fatalf("private user must not error: %v", err)
	}
	if !strings.Contains(out, `"available":false`) {
		t.Fatalf("expected unavailable marker, got %s", out)
	}
}

func TestCompetitorMentionsBoundedNames(t *testing.T) {
	store := &fakeToolStore{}
	r := newTestRegistry(&fakeReader{}, store, &fakeValidator{})
	args := `{"names":["a","b","c","d","e","f","g"]}`
	if _, err := r.Execute(context.Background(), call(ToolCompetitorMentions, args)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(store.searches) != 5 {
		t.Fatalf("searched %d names, want bounded to 5", len(store.searches))
	}
}

func TestCompetitorMentionsDefaultsToConfigured(t *testing.T) {
	store := &fakeToolStore{}
	r := newTestRegistry(&fakeReader{}, store, &fakeValidator{})
	if _, err := r.Execute(context.Background(), call(ToolCompetitorMentions, `{}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(store.searches) != 2 {
		t.Fatalf("searched %v, want the 2 configured competitors", store.searches)
	}
}

func TestEvaluateDraftDelegates(t *testing.T) {
	val := &fakeValidator{}
	r := newTestRegistry(&fakeReader{}, &fakeToolStore{}, val)
	args := `{"draft":"a helpful reply","promotional_score":0.2}`
	out, err := r.Execute(context.Background(), call(ToolEvaluateDraft, args))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if val.last.Text != "a helpful reply" || val.last.PromotionalScore != 0.2 {
		t.Fatalf("validator got %+v", val.last)
	}
	if !strings.Contains(out, `"passed":true`) {
		t.Fatalf("unexpected result %s", out)
	}
}

func TestTerminalToolsNotExecutable(t *testing.T) {
	r := newTestRegistry(&fakeReader{}, &fakeToolStore{}, &fakeValidator{})
	if _, err := r.Execute(context.Background(), call(ToolSubmit, `{}`)); err == nil {
		t.Fatalf("executing a terminal tool must fail")
	}
}

func TestRegistryDefsIncludeTerminals(t *testing.T) {
	r := newTestRegistry(&fakeReader{}, &fakeToolStore{}, &fakeValidator{})
	defs := r.Defs()
	names := make(map[string]bool, len(defs))
	for _, d := range defs {
		names[d.Name] = true
	}
	for _, want := range []string{
		ToolReadComments, ToolUserHistory, ToolRelatedPosts, ToolCompetitorMentions,
		ToolActiveCampaigns, ToolSignalBus, ToolEvaluateDraft, ToolSubmit, ToolSkip,
	} {
		if !names[want] {
			t.Errorf("registry missing %s", want)
		}
	}
	if len(defs) != 9 {
		t.Fatalf("registry has %d tools, want 9", len(defs))
	}
}
