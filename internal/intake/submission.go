package intake

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-automation/internal/apperr"
	"github.com/wolfman30/clinic-automation/internal/records"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var dobLayouts = []string{"2006-01-02", "01/02/2006", "2006/01/02"}

// Submission is the intake webhook body.
type Submission struct {
	FormID             string `json:"formId"`
	PatientName        string `json:"patientName"`
	Email              string `json:"email"`
	DOB                string `json:"dob"`
	Phone              string `json:"phone,omitempty"`
	Address            string `json:"address,omitempty"`
	ReasonForVisit     string `json:"reasonForVisit,omitempty"`
	CurrentMedications string `json:"currentMedications,omitempty"`
	Allergies          string `json:"allergies,omitempty"`
	PastConditions     string `json:"pastConditions,omitempty"`
	InsuranceProvider  string `json:"insuranceProvider,omitempty"`
	InsuranceID        string `json:"insuranceId,omitempty"`
	EmergencyContact   string `json:"emergencyContact,omitempty"`
	EmergencyPhone     string `json:"emergencyPhone,omitempty"`
	AppointmentDate    string `json:"appointmentDate,omitempty"`
	AppointmentTime    string `json:"appointmentTime,omitempty"`
	VisitType          string `json:"visitType,omitempty"`
	AdditionalNotes    string `json:"additionalNotes,omitempty"`

	// Insurance and Emergency accept the nested form of the insurance and
	// emergency contact fields. Flat fields win when both are sent.
	Insurance *InsuranceInfo `json:"insurance,omitempty"`
	Emergency *EmergencyInfo `json:"emergency,omitempty"`
}

// InsuranceInfo is the nested insurance object of a submission.
type InsuranceInfo struct {
	Provider string `json:"provider,omitempty"`
	ID       string `json:"id,omitempty"`
}

// EmergencyInfo is the nested emergency contact object of a submission.
type EmergencyInfo struct {
	Contact string `json:"contact,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Normalize trims every field, folds the nested insurance and emergency
// objects into the flat fields and assigns a form id when missing.
func (s Submission) Normalize() Submission {
	out := Submission{
		FormID:             strings.TrimSpace(s.FormID),
		PatientName:        strings.TrimSpace(s.PatientName),
		Email:              strings.TrimSpace(s.Email),
		DOB:                strings.TrimSpace(s.DOB),
		Phone:              strings.TrimSpace(s.Phone),
		Address:            strings.TrimSpace(s.Address),
		ReasonForVisit:     strings.TrimSpace(s.ReasonForVisit),
		CurrentMedications: strings.TrimSpace(s.CurrentMedications),
		Allergies:          strings.TrimSpace(s.Allergies),
		PastConditions:     strings.TrimSpace(s.PastConditions),
		InsuranceProvider:  strings.TrimSpace(s.InsuranceProvider),
		InsuranceID:        strings.TrimSpace(s.InsuranceID),
		EmergencyContact:   strings.TrimSpace(s.EmergencyContact),
		EmergencyPhone:     strings.TrimSpace(s.EmergencyPhone),
		AppointmentDate:    strings.TrimSpace(s.AppointmentDate),
		AppointmentTime:    strings.TrimSpace(s.AppointmentTime),
		VisitType:          strings.TrimSpace(s.VisitType),
		AdditionalNotes:    strings.TrimSpace(s.AdditionalNotes),
	}
	if s.Insurance != nil {
		out.InsuranceProvider = firstNonEmpty(out.InsuranceProvider, s.Insurance.Provider)
		out.InsuranceID = firstNonEmpty(out.InsuranceID, s.Insurance.ID)
	}
	if s.Emergency != nil {
		out.EmergencyContact = firstNonEmpty(out.EmergencyContact, s.Emergency.Contact)
		out.EmergencyPhone = firstNonEmpty(out.EmergencyPhone, s.Emergency.Phone)
	}
	if out.FormID == "" {
		out.FormID = "intake-" + uuid.NewString()
	}
	return out
}

func firstNonEmpty(flat, nested string) string {
	if flat != "" {
		return flat
	}
	return strings.TrimSpace(nested)
}

// Validate checks required fields and formats. It has no side effects.
func (s Submission) Validate() error {
	fields := map[string]string{}
	if strings.TrimSpace(s.PatientName) == "" {
		fields["patientName"] = "is required"
	}
	email := strings.TrimSpace(s.Email)
	switch {
	case email == "":
		fields["email"] = "is required"
	case !emailPattern.MatchString(email):
		fields["email"] = "must be a valid email address"
	}
	dob := strings.TrimSpace(s.DOB)
	switch {
	case dob == "":
		fields["dob"] = "is required"
	case !parsesAny(dob, dobLayouts):
		fields["dob"] = "must be a valid date"
	}
	if d := strings.TrimSpace(s.AppointmentDate); d != "" && !parsesAny(d, []string{records.DateLayout}) {
		fields["appointmentDate"] = "must be YYYY-MM-DD"
	}
	if t := strings.TrimSpace(s.AppointmentTime); t != "" {
		if _, err := records.ParseClock(t); err != nil {
			fields["appointmentTime"] = "must be a time such as 09:00 or 2:30 PM"
		}
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(fields)
	}
	return nil
}

// ToIntake maps a normalized submission to a new Intake row.
func (s Submission) ToIntake(now time.Time) records.Intake {
	return records.Intake{
		FormID:             s.FormID,
		CreatedAt:          now,
		Status:             records.IntakeNew,
		PatientName:        s.PatientName,
		Email:              s.Email,
		DOB:                s.DOB,
		Phone:              s.Phone,
		Address:            s.Address,
		ReasonForVisit:     s.ReasonForVisit,
		CurrentMedications: s.CurrentMedications,
		Allergies:          s.Allergies,
		PastConditions:     s.PastConditions,
		InsuranceProvider:  s.InsuranceProvider,
		InsuranceID:        s.InsuranceID,
		EmergencyContact:   s.EmergencyContact,
		EmergencyPhone:     s.EmergencyPhone,
		AppointmentDate:    s.AppointmentDate,
		AppointmentTime:    s.AppointmentTime,
		VisitType:          s.VisitType,
		AdditionalNotes:    s.AdditionalNotes,
	}
}

func parsesAny(s string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
