package scoring

import (
	"testing"
	"time"

	"github.com/prospector-io/prospector/models"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func TestLayer1EndToEndScenario(t *testing.T) {
	// "Looking for food manufacturing ERP recommendations", no body,
	// 2h old, zero comments, high-tier community, high-weight keyword.
	post := models.Post{
		Title:     "Looking for food manufacturing ERP recommendations",
		CreatedAt: testNow.Add(-2 * time.Hour),
	}
	kw := &models.Keyword{Term: "erp", Weight: models.WeightHigh}
	score, b := Layer1(post, kw, models.TierHigh, testNow)

	want := models.ScoreBreakdown{Keyword: 35, Tier: 20, Freshness: 15, Engagement: 15, Quality: 5}
	if b != want {
		t.Fatalf("breakdown = %+v, want %+v", b, want)
	}
	if score != 90 {
		t.Fatalf("score = %d, want 90", score)
	}
}

func TestLayer1Deterministic(t *testing.T) {
	post := models.Post{
		Title:       "What CRM should a tiny agency use?",
		Body:        string(make([]byte, 150)),
		NumComments: 3,
		CreatedAt:   testNow.Add(-30 * time.Hour),
	}
	kw := &models.Keyword{Weight: models.WeightCompetitor}
	s1, b1 := Layer1(post, kw, models.TierMedium, testNow)
	s2, b2 := Layer1(post, kw, models.TierMedium, testNow)
	if s1 != s2 || b1 != b2 {
		t.Fatalf("scorer is not deterministic: %d/%+v vs %d/%+v", s1, b1, s2, b2)
	}
	if s1 < 0 || s1 > 100 {
		t.Fatalf("score %d out of range", s1)
	}
}

func TestLayer1NoMatchNoTier(t *testing.T) {
	post := models.Post{Title: "plain statement", CreatedAt: testNow.Add(-72 * time.Hour), NumComments: 40}
	score, b := Layer1(post, nil, "", testNow)
	if b.Keyword != 0 || b.Tier != 0 || b.Freshness != 0 {
		t.Fatalf("unexpected breakdown: %+v", b)
	}
	if b.Engagement != 3 {
		t.Fatalf("engagement = %d, want 3 for >20 comments", b.Engagement)
	}
	if score != 3 {
		t.Fatalf("score = %d, want 3", score)
	}
}

func TestLayer1FreshnessSteps(t *testing.T) {
	cases := []struct {
		age  time.Duration
		want int
	}{
		{5 * time.Hour, 15},
		{11 * time.Hour, 12},
		{23 * time.Hour, 8},
		{47 * time.Hour, 4},
		{49 * time.Hour, 0},
	}
	for _, tc := range cases {
		post := models.Post{CreatedAt: testNow.Add(-tc.age)}
		_, b := Layer1(post, nil, "", testNow)
		if b.Freshness != tc.want {
			t.Errorf("age %v: freshness = %d, want %d", tc.age, b.Freshness, tc.want)
		}
	}
}

func TestIsQuestion(t *testing.T) {
	if !isQuestion("Anyone using Acme for inventory?") {
		t.Error("trailing ? not detected")
	}
	if !isQuestion("looking for a new tool") {
		t.Error("interrogative prefix not detected")
	}
	if isQuestion("We migrated everything last week.") {
		t.Error("statement misdetected as question")
	}
}

func TestCombined(t *testing.T) {
	if got := Combined(80, 60); got != 66 {
		t.Fatalf("Combined(80,60) = %d, want 66", got)
	}
	if got := Combined(0, 0); got != 0 {
		t.Fatalf("Combined(0,0) = %d, want 0", got)
	}
	if got := Combined(100, 100); got != 100 {
		t.Fatalf("Combined(100,100) = %d, want 100", got)
	}
}

func TestPriorityAndRisk(t *testing.T) {
	if Priority(66) != 7 {
		t.Fatalf("Priority(66) = %d, want 7", Priority(66))
	}
	if Priority(100) != 10 || Priority(0) != 1 {
		t.Fatalf("priority clamps wrong: %d %d", Priority(100), Priority(0))
	}
	if RiskLevel(70) != "low" || RiskLevel(50) != "medium" || RiskLevel(49) != "high" {
		t.Fatalf("risk level mapping wrong")
	}
}
