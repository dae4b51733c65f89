package patient

// Record is a read-only snapshot of a patient's identity and medical
// profile, constructed once per query batch and never mutated.
type Record struct {
	PatientID          string   `json:"patient_id" db:"patient_id"`
	Name               string   `json:"name" db:"name"`
	LastVisit          string   `json:"last_visit" db:"last_visit"`
	Status             string   `json:"status" db:"status"` // e.g. "active"
	MedicalHistory     []string `json:"medical_history" db:"medical_history"`
	CurrentMedications []string `json:"current_medications" db:"current_medications"`
	Age                int      `json:"age,omitempty" db:"age"`
	Symptoms           []string `json:"symptoms,omitempty" db:"symptoms"`
	FollowUpReason     string   `json:"follow_up_reason,omitempty" db:"follow_up_reason"`
}

// Recognized follow-up actions. An unrecognized action falls back to
// ActionFollowUp during processing.
const (
	ActionFollowUp    = "follow_up"
	ActionCheckStatus = "check_status"
	ActionReview      = "review"
	ActionGetPatients = "get_patients"
)

// DateRange bounds a follow-up query in time.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FollowUpContext carries the doctor's parsed intent. One context is
// shared read-only by every sub-agent spawned from the same query.
type FollowUpContext struct {
	Action           string         `json:"action"`
	TimeFilter       string         `json:"time_filter,omitempty"`
	ConditionFilter  string         `json:"condition_filter,omitempty"`
	SymptomFilter    string         `json:"symptom_filter,omitempty"`
	AgeFilter        string         `json:"age_filter,omitempty"`
	MedicationFilter string         `json:"medication_filter,omitempty"`
	DateRange        *DateRange     `json:"date_range,omitempty"`
	PatientCriteria  map[string]any `json:"patient_criteria,omitempty"`
}

// NormalizedAction returns the context action, falling back to
// ActionFollowUp when the action is not one of the recognized values.
func (c FollowUpContext) NormalizedAction() string {
	switch c.Action {
	case ActionFollowUp, ActionCheckStatus, ActionReview, ActionGetPatients:
		return c.Action
	default:
		return ActionFollowUp
	}
}
