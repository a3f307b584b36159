package triage

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/wolfman30/clinic-automation/internal/records"
)

const systemPrompt = `You are a clinical intake triage assistant for an outpatient clinic. You do not diagnose. You sort incoming intake forms so staff can prioritize follow-up.

Urgency taxonomy:
- High: acute or potentially life-threatening symptoms (for example chest pain, difficulty breathing, stroke signs, severe bleeding) or a mental-health crisis (suicidal thoughts, self-harm).
- Moderate: management of a chronic condition, mild or worsening symptoms that need attention within days.
- Low: preventive care, routine check-ups, refills, paperwork.

Respond with ONLY a JSON object, no prose, with exactly these fields:
{
  "summary": "one or two sentence clinical summary",
  "urgencyLevel": "Low|Moderate|High",
  "riskKeywords": ["short phrases from the form that drove the rating"],
  "recommendations": "what staff should do next",
  "followUpNotes": "anything to confirm with the patient"
}`

var intakePrompt = template.Must(template.New("intake").Option("missingkey=error").Parse(`Triage this patient intake.

Patient: {{.PatientName}}
Date of birth: {{.DOB}}
Visit type: {{or .VisitType "not specified"}}
Requested appointment: {{or .Appointment "none"}}

Chief complaint:
{{or .ReasonForVisit "not provided"}}

Current medications: {{or .CurrentMedications "none reported"}}
Allergies: {{or .Allergies "none reported"}}
Past conditions: {{or .PastConditions "none reported"}}
Additional notes: {{or .AdditionalNotes "none"}}
`))

type promptData struct {
	PatientName        string
	DOB                string
	VisitType          string
	Appointment        string
	ReasonForVisit     string
	CurrentMedications string
	Allergies          string
	PastConditions     string
	AdditionalNotes    string
}

func buildPrompt(in records.Intake) (string, error) {
	data := promptData{
		PatientName:        in.PatientName,
		DOB:                in.DOB,
		VisitType:          in.VisitType,
		ReasonForVisit:     strings.TrimSpace(in.ReasonForVisit),
		CurrentMedications: strings.TrimSpace(in.CurrentMedications),
		Allergies:          strings.TrimSpace(in.Allergies),
		PastConditions:     strings.TrimSpace(in.PastConditions),
		AdditionalNotes:    strings.TrimSpace(in.AdditionalNotes),
	}
	if in.HasAppointment() {
		data.Appointment = in.AppointmentDate + " " + in.AppointmentTime
	}
	var buf bytes.Buffer
	if err := intakePrompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("triage: render prompt: %w", err)
	}
	return buf.String(), nil
}
