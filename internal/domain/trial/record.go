package trial

// Record is the canonical clinical-trial record. Only ID is guaranteed to be set;
// every other field is nil when the source had no usable value.
type Record struct {
	ID                string  `json:"nct_id"`
	Title             *string `json:"title"`
	OfficialTitle     *string `json:"official_title"`
	Condition         *string `json:"condition"`
	Summary           *string `json:"summary"`
	InclusionCriteria *string `json:"inclusion"`
	ExclusionCriteria *string `json:"exclusion"`
	Country           *string `json:"country"`
	Status            *string `json:"status"`
	Phase             *string `json:"phase"`
	EnrollmentCount   *int    `json:"enrollment"`
	InterventionName  *string `json:"intervention"`
	PrimaryOutcome    *string `json:"primary_outcome"`
	StudyType         *string `json:"study_type"`
	StartDate         *string `json:"start_date"`
	CompletionDate    *string `json:"completion_date"`
	ContactName       *string `json:"contact_name"`
	ContactRole       *string `json:"contact_role"`
	ContactPhone      *string `json:"contact_phone"`
	ContactEmail      *string `json:"contact_email"`
	LeadSponsor       *string `json:"lead_sponsor"`
	SponsorType       *string `json:"sponsor_type"`
	Gender            *string `json:"gender"`
	MinAge            *string `json:"min_age"`
	MaxAge            *string `json:"max_age"`
	StdAges           *string `json:"age_groups"`
	HealthyVolunteers *string `json:"healthy_volunteers"`
}

// Value dereferences a nullable field, returning "" for nil.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
