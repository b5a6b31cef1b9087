// Package template renders campaign templates by substituting {{placeholder}}
// keys from three fixed variable scopes.
package template

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/campaignforge/dispatch/internal/domain"
)

// Rendered is the output of a resolution: the subject and body with every
// known placeholder substituted.
type Rendered struct {
	Subject string
	Body    string
}

// Resolver renders templates. System-scope values (company name, support
// email, ...) are fixed at construction; date-derived values are computed at
// resolve time via Now.
type Resolver struct {
	CompanyName        string
	SupportEmail       string
	WebsiteURL         string
	UnsubscribeBaseURL string

	// Now is the clock used for date-derived variables. Defaults to time.Now.
	Now func() time.Time
}

// Resolve merges three variable scopes with fixed precedence and no
// cross-scope fallback: call-site variables, then contact-derived variables,
// then system-derived variables. Each scope only replaces the keys it knows
// about. A placeholder whose key appears in no scope is left untouched in the
// output. Resolution never mutates the template.
func (r *Resolver) Resolve(tpl *domain.Template, callVars map[string]string, contact *domain.ContactSnapshot) Rendered {
	scopes := []map[string]string{
		callVars,
		contactVars(contact),
		r.systemVars(contact),
	}

	subject := tpl.Subject
	body := tpl.Content
	for _, scope := range scopes {
		subject = substitute(subject, scope)
		body = substitute(body, scope)
	}

	return Rendered{Subject: subject, Body: body}
}

// substitute replaces {{key}} for every key present in vars. Keys absent from
// vars are not touched, so later scopes (or the final output) still see them.
func substitute(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

func contactVars(contact *domain.ContactSnapshot) map[string]string {
	if contact == nil {
		return nil
	}
	vars := map[string]string{
		"first_name": contact.FirstName,
		"last_name":  contact.LastName,
		"email":      contact.Email,
		"phone":      contact.Phone,
		"company":    contact.Company,
	}
	for k, v := range contact.CustomFields {
		vars[k] = v
	}
	return vars
}

// systemVars are computed fresh on every call, never cached, so a template
// resolved at year boundary picks up the new year.
func (r *Resolver) systemVars(contact *domain.ContactSnapshot) map[string]string {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	vars := map[string]string{
		"current_date":  now.Format("January 2, 2006"),
		"current_year":  fmt.Sprintf("%d", now.Year()),
		"current_month": now.Format("January"),
		"company_name":  r.CompanyName,
		"support_email": r.SupportEmail,
		"website_url":   r.WebsiteURL,
	}
	if contact != nil {
		vars["unsubscribe_url"] = r.unsubscribeURL(contact.Email)
	}
	return vars
}

func (r *Resolver) unsubscribeURL(email string) string {
	base := strings.TrimRight(r.UnsubscribeBaseURL, "/")
	return base + "/unsubscribe?email=" + url.QueryEscape(email)
}
