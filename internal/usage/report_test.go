package usage

import (
	"testing"

	"github.com/tallyworks/gabelle/internal/tenant"
)

func testTenant(products ...string) *tenant.Tenant {
	return &tenant.Tenant{
		ID:       "acme",
		Name:     "Acme Ltd",
		Plan:     "starter",
		Products: products,
	}
}

func TestBuildSummary(t *testing.T) {
	ten := testTenant("chatbot", "mailer")
	aggs := []*Aggregate{
		{
			TenantID:  "acme",
			ProductID: "chatbot",
			Totals:    map[string]int64{MetricMessages: 250},
		},
	}
	ents := []Entitlement{
		{ProductID: "chatbot", Metric: MetricMessages, Limit: 1000, Bounded: true},
		{ProductID: "mailer", Metric: MetricEmails, Limit: 500, Bounded: true},
		{ProductID: "lookup", Metric: MetricLookups, Limit: 250, Bounded: true},
	}

	summary := buildSummary(ten, aggs, ents)

	if len(summary) != 2 {
		t.Fatalf("expected 2 summary rows (lookup not enabled), got %d", len(summary))
	}

	chatbot := summary[0]
	if chatbot.ProductID != "chatbot" {
		t.Fatalf("expected chatbot first, got %q", chatbot.ProductID)
	}
	if chatbot.Used != 250 {
		t.Errorf("Used = %d, want 250", chatbot.Used)
	}
	if chatbot.PercentUsed != 25 {
		t.Errorf("PercentUsed = %v, want 25", chatbot.PercentUsed)
	}

	mailer := summary[1]
	if mailer.Used != 0 {
		t.Errorf("mailer Used = %d, want 0 with no aggregate row", mailer.Used)
	}
	if mailer.PercentUsed != 0 {
		t.Errorf("mailer PercentUsed = %v, want 0", mailer.PercentUsed)
	}
}

func TestBuildSummaryUnbounded(t *testing.T) {
	ten := testTenant("chatbot")
	aggs := []*Aggregate{
		{ProductID: "chatbot", Totals: map[string]int64{MetricMessages: 99999}},
	}
	ents := []Entitlement{
		{ProductID: "chatbot", Metric: MetricMessages, Bounded: false},
	}

	summary := buildSummary(ten, aggs, ents)
	if len(summary) != 1 {
		t.Fatalf("expected 1 summary row, got %d", len(summary))
	}
	row := summary[0]
	if !row.Unbounded {
		t.Error("expected Unbounded true")
	}
	if row.Limit != -1 {
		t.Errorf("Limit = %d, want -1 for unbounded", row.Limit)
	}
	if row.PercentUsed != 0 {
		t.Errorf("PercentUsed = %v, want 0 for unbounded", row.PercentUsed)
	}
	if row.Used != 99999 {
		t.Errorf("Used = %d, want 99999", row.Used)
	}
}

func TestBuildSummarySorted(t *testing.T) {
	ten := testTenant("chatbot", "api")
	ents := []Entitlement{
		{ProductID: "chatbot", Metric: MetricMessages, Limit: 10, Bounded: true},
		{ProductID: "api", Metric: MetricAPICalls, Limit: 10, Bounded: true},
	}

	summary := buildSummary(ten, nil, ents)
	if len(summary) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(summary))
	}
	if summary[0].ProductID != "api" || summary[1].ProductID != "chatbot" {
		t.Errorf("summary not sorted by product: %q, %q",
			summary[0].ProductID, summary[1].ProductID)
	}
}
