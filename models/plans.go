package models

type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

type Feature string

const (
	FeatureCustomBranding   Feature = "custom_branding"
	FeatureSubmissionAlerts Feature = "submission_alerts"
	FeatureDocumentImport   Feature = "document_import"
	FeatureSubmissionExport Feature = "submission_export"
	FeatureCSVExport        Feature = "csv_export"
	FeatureAnalytics        Feature = "analytics"
	FeatureTeamMembers      Feature = "team_members"
)

// Unlimited marks a quota without a ceiling (-1 keeps the column SQL friendly)
const Unlimited int64 = -1

type PlanLimits struct {
	FormsLimit       int64
	SubmissionsLimit int64
	Features         []Feature
}

var planCatalog = map[Plan]PlanLimits{
	PlanFree: {
		FormsLimit:       3,
		SubmissionsLimit: 100,
		Features:         []Feature{},
	},
	PlanBasic: {
		FormsLimit:       10,
		SubmissionsLimit: 1000,
		Features: []Feature{
			FeatureCustomBranding,
			FeatureSubmissionAlerts,
			FeatureDocumentImport,
		},
	},
	PlanPremium: {
		FormsLimit:       Unlimited,
		SubmissionsLimit: Unlimited,
		Features: []Feature{
			FeatureCustomBranding,
			FeatureSubmissionAlerts,
			FeatureDocumentImport,
			FeatureSubmissionExport,
			FeatureCSVExport,
			FeatureAnalytics,
			FeatureTeamMembers,
		},
	},
}

// CatalogEntry returns the limits for a plan, defaulting to the free plan
// for unknown values so a corrupted row can never unlock paid capabilities.
func CatalogEntry(plan Plan) PlanLimits {
	if limits, ok := planCatalog[plan]; ok {
		return limits
	}
	return planCatalog[PlanFree]
}

func (pl PlanLimits) HasFeature(feature Feature) bool {
	for _, f := range pl.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// WithinLimit reports whether one more resource can be created when the
// current count is already at the given value.
func WithinLimit(limit int64, currentCount int64) bool {
	return limit == Unlimited || currentCount < limit
}
