package summarize

import (
	"strings"

	"github.com/jwulff/clinote/internal/note"
	"github.com/jwulff/clinote/internal/settings"
)

const systemPrompt = "You are a medical transcription assistant. Always respond with valid JSON format for clinical summaries."

const noteShape = `{
  "chiefComplaint": "Primary reason for visit",
  "hpi": "Comprehensive History of Present Illness including: 1) Detailed timeline of symptoms (onset, progression, duration), 2) Specific patient quotes and descriptions, 3) Severity assessment with patient's own words, 4) Associated symptoms and their relationship to main complaint, 5) Aggravating and alleviating factors, 6) Previous episodes or similar symptoms, 7) Impact on daily activities and quality of life, 8) Patient's understanding and concerns about their condition, 9) Relevant social and environmental factors, 10) Treatment attempts and their effectiveness",
  "ros": "Review of Systems - comprehensive review of relevant body systems",
  "assessment": "Detailed clinical assessment including: 1) Primary diagnosis with rationale, 2) Differential diagnoses considered, 3) Clinical reasoning and findings that support the diagnosis, 4) Severity assessment, 5) Risk factors identified, 6) Complications or comorbidities noted",
  "plan": "Comprehensive treatment plan including: 1) Immediate interventions, 2) Medications (new prescriptions, dosage changes, discontinuations), 3) Diagnostic testing ordered, 4) Referrals to specialists, 5) Lifestyle modifications, 6) Patient education provided, 7) Follow-up schedule",
  "medications": "Detailed medication management including current medications, new prescriptions, dosage changes, side effects discussed, and patient instructions",
  "followUp": "Specific follow-up instructions including timeline, what to monitor, when to return, and red flag symptoms to watch for",
  "diagnosisCodes": [{"code": "ICD-10 code 1", "name": "Diagnosis name 1"}, {"code": "ICD-10 code 2", "name": "Diagnosis name 2"}],
  "cptCodes": [{"code": "CPT code 1", "name": "CPT description 1"}, {"code": "CPT code 2", "name": "CPT description 2"}]
}`

const codeGuidance = `For the HPI section, include specific patient quotes and descriptions in quotation marks when the patient describes their symptoms, pain, or concerns. Use the patient's own words to describe severity, timing, and impact on their life.

For diagnosis codes, provide relevant ICD-10 codes with their corresponding diagnosis names in the format: {"code": "ICD-10 code", "name": "Diagnosis name"}. Include the most specific and relevant codes based on the clinical assessment.

For CPT codes, provide relevant Current Procedural Terminology codes with their descriptions in the format: {"code": "CPT code", "name": "CPT description"}. Include codes for office visits, procedures, diagnostic tests, and other services discussed. Common codes include:
- 99213-99215: Office visits (established patient)
- 99203-99205: Office visits (new patient)
- 93000: ECG/EKG
- 71045: Chest X-ray
- 76700: Ultrasound
- 80048: Basic metabolic panel
- 85025: Complete blood count
- 81002: Urinalysis
- 99406-99407: Smoking cessation counseling
- 99495-99496: Care management services

Make the assessment and plan detailed and comprehensive as a medical provider would document.
If any section cannot be determined from the transcript, use "` + note.Placeholder + `" as the value.
Ensure the response is valid JSON format.`

func buildPrompt(transcript string, specialty settings.Specialty) string {
	var b strings.Builder
	b.WriteString("You are a medical transcription assistant. Analyze this medical conversation transcript and extract clinically relevant information.\n\n")
	b.WriteString(Template(specialty))
	b.WriteString("\n\nTranscript: ")
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\n\nPlease return a JSON object with the following structure:\n")
	b.WriteString(noteShape)
	b.WriteString("\n\n")
	b.WriteString(codeGuidance)
	return b.String()
}

// FirstJSONObject returns the first balanced JSON object in s. Braces inside
// string literals are ignored. If the first opening brace never closes, the
// search resumes at the next one.
func FirstJSONObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			return s[start : end+1], true
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
