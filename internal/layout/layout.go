// Package layout renders printable document headers and footers. Templates
// use /namespace.field/ tokens; rendering is total — any input string yields
// an output string, and unknown tokens resolve to the empty string.
package layout

import (
	"regexp"
	"strconv"
	"time"

	"policyhub/api/internal/store"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z][a-zA-Z0-9_]*)\.([a-zA-Z][a-zA-Z0-9_]*)\s*\}\}`)

var slashPattern = regexp.MustCompile(`/([a-zA-Z][a-zA-Z0-9_]*\.[a-zA-Z][a-zA-Z0-9_]*)/`)

// Defaults applied when neither the organization nor the portal sets a value.
var systemDefaults = map[string]string{
	"dateFormat": "2006-01-02",
	"timeFormat": "15:04",
}

// Context carries everything a header or footer template can reference.
type Context struct {
	Policy       store.Policy
	Organization store.Organization
	PortalExtras map[string]string // portal-level overrides for organization settings
	PageNumber   int
	TotalPages   int
	Now          time.Time // zero means time.Now()
}

// Render substitutes every /namespace.field/ token in template with its value
// from ctx. Tokens are first normalized to {{namespace.field}} form, then
// replaced; a token with no value becomes the empty string.
func Render(template string, ctx Context) string {
	normalized := slashPattern.ReplaceAllString(template, "{{$1}}")
	return tokenPattern.ReplaceAllStringFunc(normalized, func(match string) string {
		groups := tokenPattern.FindStringSubmatch(match)
		return resolve(groups[1], groups[2], ctx)
	})
}

// Settings merges system defaults, organization settings, and portal-level
// overrides, in that order of precedence.
func Settings(org store.Organization, portalExtras map[string]string) map[string]string {
	merged := make(map[string]string, len(systemDefaults)+len(org.Settings)+len(portalExtras))
	for k, v := range systemDefaults {
		merged[k] = v
	}
	for k, v := range org.Settings {
		merged[k] = v
	}
	for k, v := range portalExtras {
		merged[k] = v
	}
	return merged
}

func resolve(namespace, field string, ctx Context) string {
	switch namespace {
	case "policy":
		return policyField(field, ctx)
	case "organization":
		return organizationField(field, ctx)
	case "document":
		return documentField(field, ctx)
	}
	return ""
}

func policyField(field string, ctx Context) string {
	p := ctx.Policy
	switch field {
	case "title":
		return p.Title
	case "status":
		return p.Status
	case "version":
		if p.CurrentVersion == 0 {
			return ""
		}
		return strconv.Itoa(p.CurrentVersion)
	case "department":
		return p.Department
	case "category":
		return p.Category
	case "effectiveDate":
		return formatDate(p.EffectiveDate, ctx)
	case "expirationDate":
		return formatDate(p.ExpirationDate, ctx)
	case "reviewDate":
		return formatDate(p.ReviewDate, ctx)
	}
	return ""
}

func organizationField(field string, ctx Context) string {
	switch field {
	case "name":
		return ctx.Organization.Name
	case "slug":
		return ctx.Organization.Slug
	}
	// Custom variables live in the merged settings map.
	return Settings(ctx.Organization, ctx.PortalExtras)[field]
}

func documentField(field string, ctx Context) string {
	switch field {
	case "pageNumber":
		return strconv.Itoa(ctx.PageNumber)
	case "totalPages":
		return strconv.Itoa(ctx.TotalPages)
	case "printDate":
		return now(ctx).Format(setting(ctx, "dateFormat"))
	case "printTime":
		return now(ctx).Format(setting(ctx, "timeFormat"))
	}
	return ""
}

func setting(ctx Context, key string) string {
	return Settings(ctx.Organization, ctx.PortalExtras)[key]
}

func formatDate(t *time.Time, ctx Context) string {
	if t == nil {
		return ""
	}
	return t.Format(setting(ctx, "dateFormat"))
}

func now(ctx Context) time.Time {
	if ctx.Now.IsZero() {
		return time.Now()
	}
	return ctx.Now
}
