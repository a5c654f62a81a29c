package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"time"

	"policyhub/api/internal/layout"
	"policyhub/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetPolicy(ctx context.Context, policyID string) (store.Policy, error)
	GetOrganization(ctx context.Context, orgID string) (store.Organization, error)
	GetPortal(ctx context.Context, portalID string) (store.Portal, error)
}

// Service provides policy export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export in the requested format. The policy's header and
// footer templates come from the portal when one is given, rendered through
// the layout engine so /namespace.field/ tokens resolve.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	policy, err := s.store.GetPolicy(ctx, req.PolicyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContentUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}

	org, err := s.store.GetOrganization(ctx, policy.OrgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	layoutCtx := layout.Context{
		Policy:       policy,
		Organization: org,
		Now:          time.Now(),
	}

	headerTmpl := "/organization.name/ — /policy.title/"
	footerTmpl := "Version /policy.version/ · printed /document.printDate/"
	if v := org.Settings["headerTemplate"]; v != "" {
		headerTmpl = v
	}
	if v := org.Settings["footerTemplate"]; v != "" {
		footerTmpl = v
	}
	if req.PortalID != "" {
		portal, err := s.store.GetPortal(ctx, req.PortalID)
		if err != nil {
			return nil, fmt.Errorf("get portal: %w", err)
		}
		if portal.HeaderTemplate != nil {
			headerTmpl = *portal.HeaderTemplate
		}
		if portal.FooterTemplate != nil {
			footerTmpl = *portal.FooterTemplate
		}
	}

	data := TemplateData{
		Title:       policy.Title,
		ContentHTML: template.HTML(policy.Content),
		OrgName:     org.Name,
		Department:  policy.Department,
		Version:     policy.CurrentVersion,
		UpdatedAt:   policy.UpdatedAt,
	}

	html, err := RenderPolicyHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		header := layout.Render(headerTmpl, layoutCtx)
		footer := layout.Render(footerTmpl, layoutCtx)
		return exportPDF(html, header, footer, policy.Title)
	case FormatDOCX:
		return exportDOCX(html, policy.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
