package ack

import "policyhub/api/internal/store"

// BuildReport turns raw counts into the expected-vs-actual coverage report.
// Expected is recipients times published assigned policies; the rate is zero
// when nothing is expected.
func BuildReport(portalID string, recipients, policies, actual int) store.PortalReport {
	report := store.PortalReport{
		PortalID:   portalID,
		Recipients: recipients,
		Policies:   policies,
		Expected:   recipients * policies,
		Actual:     actual,
	}
	if report.Expected > 0 {
		report.Rate = float64(report.Actual) / float64(report.Expected)
	}
	return report
}
