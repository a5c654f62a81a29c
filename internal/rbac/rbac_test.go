package rbac

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		role     Role
		action   Action
		expected bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionManagePortals, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionPublish, true},
		{RoleEditor, ActionViewReports, true},
		{RoleEditor, ActionManagePortals, false},
		{RoleEditor, ActionAdmin, false},
		{RoleMember, ActionRead, true},
		{RoleMember, ActionAcknowledge, true},
		{RoleMember, ActionWrite, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionAcknowledge, false},
		{Role("unknown"), ActionRead, false},
	}
	for _, tt := range tests {
		if got := Can(tt.role, tt.action); got != tt.expected {
			t.Errorf("Can(%s, %s) = %v, want %v", tt.role, tt.action, got, tt.expected)
		}
	}
}

func TestSeesDrafts(t *testing.T) {
	if !SeesDrafts(RoleAdmin) || !SeesDrafts(RoleEditor) {
		t.Fatalf("expected admin and editor to see drafts")
	}
	if SeesDrafts(RoleMember) || SeesDrafts(RoleViewer) {
		t.Fatalf("expected member and viewer to see published only")
	}
}

func TestNormalizeFallsBackToViewer(t *testing.T) {
	if got := Normalize("super"); got != RoleViewer {
		t.Fatalf("Normalize(super) = %s, want viewer", got)
	}
	if got := Normalize("editor"); got != RoleEditor {
		t.Fatalf("Normalize(editor) = %s, want editor", got)
	}
}
