package triage

import (
	"strings"

	"github.com/wolfman30/clinic-automation/internal/records"
)

// riskPhrases is the fixed dictionary scanned by the keyword fallback.
// Order is the order keywords are reported in.
var riskPhrases = []string{
	"chest pain",
	"shortness of breath",
	"difficulty breathing",
	"trouble breathing",
	"can't breathe",
	"suicide",
	"suicidal",
	"self-harm",
	"overdose",
	"anaphylaxis",
	"severe allergic reaction",
	"throat swelling",
	"stroke",
	"slurred speech",
	"facial droop",
	"seizure",
	"unconscious",
	"loss of consciousness",
	"fainting",
	"severe bleeding",
	"vomiting blood",
	"coughing up blood",
	"head injury",
	"severe headache",
	"high fever",
	"confusion",
	"numbness",
	"paralysis",
	"heart attack",
	"palpitations",
}

// intensifiers raise the match count when at least one risk phrase is
// present. They are never reported as keywords.
var intensifiers = []string{"severe", "acute", "sudden", "worst", "extreme"}

const (
	highThreshold     = 3
	moderateThreshold = 1
)

// summaryRunes caps the reason quoted in a heuristic summary.
const summaryRunes = 200

// keywordScan holds the result of scanning intake free text.
type keywordScan struct {
	Keywords []string
	Score    int
	Urgency  records.Urgency
	// Empty is true when the intake carried no free text to scan.
	Empty bool
}

func freeText(in records.Intake) string {
	parts := []string{in.ReasonForVisit, in.CurrentMedications, in.Allergies, in.PastConditions, in.AdditionalNotes}
	return strings.Join(trimAll(parts), " ")
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "’", "'")
	return strings.Join(strings.Fields(s), " ")
}

func scanKeywords(in records.Intake) keywordScan {
	text := normalize(freeText(in))
	if text == "" {
		return keywordScan{Empty: true, Urgency: records.UrgencyLow}
	}

	var scan keywordScan
	for _, phrase := range riskPhrases {
		if strings.Contains(text, phrase) {
			scan.Keywords = append(scan.Keywords, phrase)
		}
	}
	scan.Score = len(scan.Keywords)
	if scan.Score > 0 {
		for _, w := range intensifiers {
			if containsWord(text, w) {
				scan.Score++
			}
		}
	}

	switch {
	case scan.Score >= highThreshold:
		scan.Urgency = records.UrgencyHigh
	case scan.Score >= moderateThreshold:
		scan.Urgency = records.UrgencyModerate
	default:
		scan.Urgency = records.UrgencyLow
	}
	return scan
}

func containsWord(text, word string) bool {
	for _, f := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '-' || r == '\'')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

func heuristicSummary(in records.Intake) string {
	reason := strings.TrimSpace(in.ReasonForVisit)
	if reason == "" {
		reason = "no reason provided"
	}
	if r := []rune(reason); len(r) > summaryRunes {
		reason = string(r[:summaryRunes]) + "..."
	}
	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		name = "Patient"
	}
	return name + " reports: " + reason
}

func heuristicRecommendations(u records.Urgency) string {
	switch u {
	case records.UrgencyHigh:
		return "Prioritize same-day clinical review. Contact the patient promptly and direct to emergency services if symptoms are acute."
	case records.UrgencyModerate:
		return "Schedule a timely appointment and have clinical staff review symptoms before the visit."
	default:
		return "Routine scheduling. No urgent action required."
	}
}

func heuristicFollowUp(scan keywordScan) string {
	if len(scan.Keywords) == 0 {
		return "Automated keyword triage found no risk indicators; confirm at check-in."
	}
	return "Automated keyword triage flagged: " + strings.Join(scan.Keywords, ", ") + ". Confirm with clinical staff."
}
