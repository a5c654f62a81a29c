package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"policyhub/api/internal/auth"
	"policyhub/api/internal/export"
	"policyhub/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return s.withMiddleware(mux)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/admin/signin" {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.AdminSignIn(r.Context(), body.Email, body.Password, clientIP(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":  true,
			"userName":       session.UserName,
			"userId":         session.UserID,
			"role":           session.Role,
			"organizationId": session.EffectiveOrgID,
			"impersonating":  session.Impersonating,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// Public portal surface: /portal/{orgSlug}/{portalSlug}/...
	if len(parts) >= 3 && parts[0] == "portal" {
		s.handlePortal(w, r, parts[1], parts[2], parts[3:])
		return
	}

	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	// Everything below requires a session.
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "admin":
		s.handleAdmin(w, r, session, parts[2:])
		return
	case "organization":
		s.handleOrganization(w, r, session, parts[2:])
		return
	case "policies":
		s.handlePolicies(w, r, session, parts[2:])
		return
	case "portals":
		s.handlePortals(w, r, session, parts[2:])
		return
	case "search":
		if r.Method != http.MethodGet || len(parts) != 2 {
			break
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		response, err := s.service.SearchPolicies(r.Context(), session, r.URL.Query().Get("q"), limit, offset)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "impersonate" {
		var body struct {
			OrganizationID string `json:"organizationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		next, err := s.service.Impersonate(r.Context(), session, body.OrganizationID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(next))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "impersonate" && parts[1] == "stop" {
		next, err := s.service.StopImpersonation(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(next))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "migrate-legacy" {
		migrated, err := s.service.MigrateLegacy(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"migrated": migrated})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "security-events" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		events, err := s.service.SecurityEvents(r.Context(), session, limit)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(events))
		for _, event := range events {
			payload = append(payload, eventJSON(event))
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": payload})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "organizations" {
		orgs, err := s.service.ListOrganizations(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(orgs))
		for _, org := range orgs {
			payload = append(payload, orgJSON(org))
		}
		writeJSON(w, http.StatusOK, map[string]any{"organizations": payload})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOrganization(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 0 {
		org, err := s.service.Organization(r.Context(), session)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orgJSON(org))
		return
	}

	if r.Method == http.MethodPut && len(parts) == 1 && parts[0] == "settings" {
		var body struct {
			Settings map[string]string `json:"settings"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		org, err := s.service.UpdateOrganizationSettings(r.Context(), session, body.Settings)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orgJSON(org))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePolicies(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			policies, err := s.service.ListPolicies(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(policies))
			for _, policy := range policies {
				payload = append(payload, policyJSON(policy, false))
			}
			writeJSON(w, http.StatusOK, map[string]any{"policies": payload})
			return
		case http.MethodPost:
			var body PolicyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			policy, err := s.service.CreatePolicy(r.Context(), session, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, policyJSON(policy, true))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	policyID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			policy, err := s.service.GetPolicy(r.Context(), session, policyID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, policyJSON(policy, true))
			return
		case http.MethodPut:
			var body PolicyInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			policy, err := s.service.UpdatePolicy(r.Context(), session, policyID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, policyJSON(policy, true))
			return
		case http.MethodDelete:
			if err := s.service.DeletePolicy(r.Context(), session, policyID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodPut && len(rest) == 1 && rest[0] == "status" {
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		policy, err := s.service.SetPolicyStatus(r.Context(), session, policyID, body.Status)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, policyJSON(policy, true))
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "versions" {
		versions, err := s.service.ListPolicyVersions(r.Context(), session, policyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(versions))
		for _, version := range versions {
			payload = append(payload, versionJSON(version))
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "acknowledge" {
		row, err := s.service.AcknowledgePolicy(r.Context(), session, policyID, clientIP(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ackJSON(row))
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "acknowledgments" {
		rows, err := s.service.ListPolicyAcknowledgments(r.Context(), session, policyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			payload = append(payload, ackJSON(row))
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledgments": payload})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "portals" {
		portals, err := s.service.ListAssignedPortals(r.Context(), session, policyID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(portals))
		for _, portal := range portals {
			payload = append(payload, portalJSON(portal))
		}
		writeJSON(w, http.StatusOK, map[string]any{"portals": payload})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "export" {
		format := export.Format(r.URL.Query().Get("format"))
		if format == "" {
			format = export.FormatPDF
		}
		result, err := s.service.ExportPolicy(r.Context(), session, policyID, r.URL.Query().Get("portalId"), format)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(rest) == 1 && rest[0] == "attachments" {
		switch r.Method {
		case http.MethodPost:
			key, err := s.service.UploadAttachment(r.Context(), session, policyID,
				r.URL.Query().Get("filename"), r.Header.Get("Content-Type"), r)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"key": key})
			return
		case http.MethodGet:
			keys, err := s.service.ListAttachments(r.Context(), session, policyID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachments": keys})
			return
		case http.MethodDelete:
			if err := s.service.DeleteAttachment(r.Context(), session, policyID, r.URL.Query().Get("key")); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && len(rest) == 2 && rest[0] == "attachments" && rest[1] == "url" {
		url, err := s.service.AttachmentURL(r.Context(), session, policyID, r.URL.Query().Get("key"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "rewrite" {
		var body struct {
			Instruction string `json:"instruction"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.RewritePolicy(r.Context(), w, session, policyID, body.Instruction); err != nil {
			writeMappedError(w, err)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePortals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			portals, err := s.service.ListPortalsAdmin(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			payload := make([]map[string]any, 0, len(portals))
			for _, portal := range portals {
				payload = append(payload, portalJSON(portal))
			}
			writeJSON(w, http.StatusOK, map[string]any{"portals": payload})
			return
		case http.MethodPost:
			var body PortalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			portal, err := s.service.CreatePortal(r.Context(), session, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, portalJSON(portal))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	portalID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			portal, err := s.service.GetPortalAdmin(r.Context(), session, portalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, portalJSON(portal))
			return
		case http.MethodPut:
			var body PortalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			portal, err := s.service.UpdatePortal(r.Context(), session, portalID, body)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, portalJSON(portal))
			return
		case http.MethodDelete:
			if err := s.service.DeletePortal(r.Context(), session, portalID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "assignments" {
		var body struct {
			PolicyID string `json:"policyId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		switch r.Method {
		case http.MethodPost:
			if err := s.service.AssignPolicy(r.Context(), session, body.PolicyID, portalID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			if err := s.service.UnassignPolicy(r.Context(), session, body.PolicyID, portalID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "recipients" {
		switch r.Method {
		case http.MethodGet:
			recipients, err := s.service.ListRecipients(r.Context(), session, portalID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
			return
		case http.MethodPost:
			var body struct {
				Emails []string `json:"emails"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.AddRecipients(r.Context(), session, portalID, body.Emails); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		case http.MethodDelete:
			var body struct {
				Email string `json:"email"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if err := s.service.RemoveRecipient(r.Context(), session, portalID, body.Email); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "report" {
		report, err := s.service.PortalReport(r.Context(), session, portalID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"portalId":   report.PortalID,
			"recipients": report.Recipients,
			"policies":   report.Policies,
			"expected":   report.Expected,
			"actual":     report.Actual,
			"rate":       report.Rate,
		})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "acknowledgments" {
		rows, err := s.service.PortalEmailAcknowledgments(r.Context(), session, portalID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			payload = append(payload, emailAckJSON(row))
		}
		writeJSON(w, http.StatusOK, map[string]any{"acknowledgments": payload})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "reminders" {
		sent, err := s.service.SendReminders(r.Context(), session, portalID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handlePortal serves the public portal surface. The caller may carry a
// portal password (header or body) and an optional bearer session.
func (s *HTTPServer) handlePortal(w http.ResponseWriter, r *http.Request, orgSlug, portalSlug string, parts []string) {
	visitor := Visitor{Password: strings.TrimSpace(r.Header.Get("X-Portal-Password"))}
	if token := bearerToken(r); token != "" {
		if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			visitor.Session = &session
		}
	}

	// Bare portal metadata: enough for a client to render the gate (name,
	// access type) without passing the access check itself.
	if r.Method == http.MethodGet && len(parts) == 0 {
		portal, err := s.service.PortalMeta(r.Context(), orgSlug, portalSlug)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, publicPortalJSON(portal))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "access" {
		var body struct {
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Password != "" {
			visitor.Password = body.Password
		}
		portal, err := s.service.CheckPortalAccess(r.Context(), orgSlug, portalSlug, visitor)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"allowed": true, "portal": publicPortalJSON(portal)})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "policies" {
		portal, states, err := s.service.PortalPolicies(r.Context(), orgSlug, portalSlug, visitor,
			strings.TrimSpace(r.URL.Query().Get("email")))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(states))
		for _, state := range states {
			payload = append(payload, ackStateJSON(state))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"portal":   publicPortalJSON(portal),
			"policies": payload,
		})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "request-code" {
		var body struct {
			PolicyID string `json:"policyId"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Password != "" {
			visitor.Password = body.Password
		}
		devCode, err := s.service.RequestCode(r.Context(), orgSlug, portalSlug, visitor,
			body.PolicyID, body.Email, clientIP(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload := map[string]any{"ok": true}
		if devCode != "" {
			// SMTP not configured; surface the code so local setups work.
			payload["devCode"] = devCode
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "confirm" {
		var body struct {
			PolicyID string `json:"policyId"`
			Email    string `json:"email"`
			Code     string `json:"code"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Password != "" {
			visitor.Password = body.Password
		}
		row, err := s.service.ConfirmCode(r.Context(), orgSlug, portalSlug, visitor,
			body.PolicyID, body.Email, body.Code, clientIP(r), r.UserAgent())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, emailAckJSON(row))
		return
	}

	if r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "acknowledge" {
		var body struct {
			PolicyID string `json:"policyId"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Password != "" {
			visitor.Password = body.Password
		}
		row, err := s.service.AcknowledgeInPortal(r.Context(), orgSlug, portalSlug, visitor,
			body.PolicyID, clientIP(r))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ackJSON(row))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush lets streaming handlers reach the underlying flusher.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Portal-Password")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrDuplicateSlug) {
		return http.StatusConflict, "SLUG_TAKEN", "Slug already in use", nil
	}
	if errors.Is(err, store.ErrCodeInvalid) {
		return http.StatusBadRequest, "CODE_INVALID", "Invalid or expired confirmation code", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, export.ErrContentUnavailable) {
		return http.StatusNotFound, "NOT_FOUND", "Policy content unavailable", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export backend unavailable", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// --- response shaping ---

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":          session.Token,
		"refreshToken":   session.RefreshToken,
		"userId":         session.UserID,
		"userName":       session.UserName,
		"role":           session.Role,
		"organizationId": session.EffectiveOrgID,
		"impersonating":  session.Impersonating,
		"expiresAt":      session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func orgJSON(org store.Organization) map[string]any {
	return map[string]any{
		"id":       org.ID,
		"name":     org.Name,
		"slug":     org.Slug,
		"settings": org.Settings,
	}
}

func portalJSON(portal store.Portal) map[string]any {
	payload := publicPortalJSON(portal)
	payload["allowedRoles"] = portal.AllowedRoles
	payload["isActive"] = portal.IsActive
	payload["hasPassword"] = portal.PasswordHash != nil
	payload["headerTemplate"] = portal.HeaderTemplate
	payload["footerTemplate"] = portal.FooterTemplate
	payload["createdAt"] = portal.CreatedAt.UTC().Format(time.RFC3339)
	return payload
}

// publicPortalJSON omits configuration that anonymous visitors have no
// business seeing.
func publicPortalJSON(portal store.Portal) map[string]any {
	return map[string]any{
		"id":                     portal.ID,
		"slug":                   portal.Slug,
		"name":                   portal.Name,
		"accessType":             portal.AccessType,
		"requiresAcknowledgment": portal.RequiresAcknowledgment,
		"acknowledgmentMode":     portal.AcknowledgmentMode,
	}
}

func policyJSON(policy store.Policy, includeContent bool) map[string]any {
	payload := map[string]any{
		"id":             policy.ID,
		"title":          policy.Title,
		"status":         policy.Status,
		"currentVersion": policy.CurrentVersion,
		"tags":           policy.Tags,
		"department":     policy.Department,
		"category":       policy.Category,
		"createdAt":      policy.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":      policy.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if includeContent {
		payload["content"] = policy.Content
		payload["authorId"] = policy.AuthorID
	}
	if policy.EffectiveDate != nil {
		payload["effectiveDate"] = policy.EffectiveDate.UTC().Format(time.RFC3339)
	}
	if policy.ExpirationDate != nil {
		payload["expirationDate"] = policy.ExpirationDate.UTC().Format(time.RFC3339)
	}
	if policy.ReviewDate != nil {
		payload["reviewDate"] = policy.ReviewDate.UTC().Format(time.RFC3339)
	}
	return payload
}

func ackStateJSON(state store.PolicyAckState) map[string]any {
	payload := policyJSON(state.Policy, true)
	payload["requiresAcknowledgment"] = state.RequiresAck
	payload["isAcknowledged"] = state.IsAcknowledged
	if state.AcknowledgedAt != nil {
		payload["acknowledgedAt"] = state.AcknowledgedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func versionJSON(version store.PolicyVersion) map[string]any {
	return map[string]any{
		"id":        version.ID,
		"version":   version.Version,
		"title":     version.Title,
		"savedBy":   version.SavedBy,
		"createdAt": version.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ackJSON(row store.Acknowledgment) map[string]any {
	return map[string]any{
		"id":             row.ID,
		"policyId":       row.PolicyID,
		"userId":         row.UserID,
		"acknowledgedAt": row.AcknowledgedAt.UTC().Format(time.RFC3339),
	}
}

func emailAckJSON(row store.EmailAcknowledgment) map[string]any {
	return map[string]any{
		"id":             row.ID,
		"portalId":       row.PortalID,
		"policyId":       row.PolicyID,
		"email":          row.Email,
		"acknowledgedAt": row.AcknowledgedAt.UTC().Format(time.RFC3339),
	}
}

func eventJSON(event store.SecurityEvent) map[string]any {
	return map[string]any{
		"id":        event.ID,
		"event":     event.Event,
		"actorId":   event.ActorID,
		"email":     event.Email,
		"ipAddress": event.IPAddress,
		"detail":    event.Detail,
		"createdAt": event.CreatedAt.UTC().Format(time.RFC3339),
	}
}
