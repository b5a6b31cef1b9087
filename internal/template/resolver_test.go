package template

import (
	"testing"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
)

func testResolver() *Resolver {
	return &Resolver{
		CompanyName:        "Acme Corp",
		SupportEmail:       "support@acme.test",
		WebsiteURL:         "https://acme.test",
		UnsubscribeBaseURL: "https://acme.test",
		Now:                func() time.Time { return time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC) },
	}
}

func TestResolve_ScopePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		content  string
		callVars map[string]string
		contact  *domain.ContactSnapshot
		wantSub  string
		wantBody string
	}{
		{
			name:     "call variables win over contact",
			subject:  "Hi {{first_name}}",
			content:  "Dear {{first_name}} {{last_name}}",
			callVars: map[string]string{"first_name": "Override"},
			contact:  &domain.ContactSnapshot{Email: "a@b.test", FirstName: "Jane", LastName: "Doe"},
			wantSub:  "Hi Override",
			wantBody: "Dear Override Doe",
		},
		{
			name:     "contact wins over system for overlapping keys",
			subject:  "{{company}}",
			content:  "From {{company_name}}",
			contact:  &domain.ContactSnapshot{Email: "a@b.test", Company: "Widgets Ltd"},
			wantSub:  "Widgets Ltd",
			wantBody: "From Acme Corp",
		},
		{
			name:     "system variables fill date and links",
			subject:  "{{current_month}} news",
			content:  "(c) {{current_year}} {{company_name}} - {{website_url}}",
			contact:  &domain.ContactSnapshot{Email: "a@b.test"},
			wantSub:  "March news",
			wantBody: "(c) 2025 Acme Corp - https://acme.test",
		},
		{
			name:     "custom fields resolve like contact fields",
			subject:  "Your plan: {{plan}}",
			content:  "Hello {{first_name}}",
			contact:  &domain.ContactSnapshot{Email: "a@b.test", FirstName: "Sam", CustomFields: map[string]string{"plan": "Pro"}},
			wantSub:  "Your plan: Pro",
			wantBody: "Hello Sam",
		},
		{
			name:     "unknown placeholder passes through untouched",
			subject:  "Hi {{nickname}}",
			content:  "Code: {{promo_code}}",
			contact:  &domain.ContactSnapshot{Email: "a@b.test", FirstName: "Sam"},
			wantSub:  "Hi {{nickname}}",
			wantBody: "Code: {{promo_code}}",
		},
	}

	r := testResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := &domain.Template{ID: "tpl-1", Subject: tt.subject, Content: tt.content}
			got := r.Resolve(tpl, tt.callVars, tt.contact)
			if got.Subject != tt.wantSub {
				t.Errorf("subject: got %q, want %q", got.Subject, tt.wantSub)
			}
			if got.Body != tt.wantBody {
				t.Errorf("body: got %q, want %q", got.Body, tt.wantBody)
			}
		})
	}
}

func TestResolve_UnsubscribeURLEscapesEmail(t *testing.T) {
	r := testResolver()
	tpl := &domain.Template{Subject: "s", Content: "{{unsubscribe_url}}"}
	contact := &domain.ContactSnapshot{Email: "a+tag@b.test"}

	got := r.Resolve(tpl, nil, contact)
	want := "https://acme.test/unsubscribe?email=a%2Btag%40b.test"
	if got.Body != want {
		t.Errorf("unsubscribe url: got %q, want %q", got.Body, want)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := testResolver()
	tpl := &domain.Template{
		ID:      "tpl-1",
		Subject: "Hi {{first_name}} - {{current_date}}",
		Content: "{{missing}} {{company_name}} {{email}}",
	}
	callVars := map[string]string{"first_name": "Ada"}
	contact := &domain.ContactSnapshot{Email: "ada@b.test", FirstName: "ignored"}

	first := r.Resolve(tpl, callVars, contact)
	second := r.Resolve(tpl, callVars, contact)

	if first != second {
		t.Errorf("resolution not idempotent:\n  first:  %+v\n  second: %+v", first, second)
	}
}

func TestResolve_DoesNotMutateTemplate(t *testing.T) {
	r := testResolver()
	tpl := &domain.Template{ID: "tpl-1", Subject: "Hi {{first_name}}", Content: "Body {{email}}"}
	contact := &domain.ContactSnapshot{Email: "a@b.test", FirstName: "Sam"}

	r.Resolve(tpl, nil, contact)

	if tpl.Subject != "Hi {{first_name}}" || tpl.Content != "Body {{email}}" {
		t.Errorf("template mutated: %+v", tpl)
	}
}

func TestResolve_NoScopeFallbackAcrossScopes(t *testing.T) {
	// An empty value in a higher scope still wins: scopes replace the keys
	// they know about, they do not fall through to lower scopes.
	r := testResolver()
	tpl := &domain.Template{Subject: "[{{first_name}}]", Content: "x"}
	callVars := map[string]string{"first_name": ""}
	contact := &domain.ContactSnapshot{Email: "a@b.test", FirstName: "Jane"}

	got := r.Resolve(tpl, callVars, contact)
	if got.Subject != "[]" {
		t.Errorf("expected empty call-scope value to win, got %q", got.Subject)
	}
}
