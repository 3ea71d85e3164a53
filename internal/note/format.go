package note

import (
	"strings"
	"time"
)

// InvalidCode replaces a code entry that is missing its code or its name.
const InvalidCode = "Invalid code format"

// DateLayout is the date format used in the document header.
const DateLayout = "1/2/2006"

// FormatField renders a field as text. Structured fields emit only their
// present sub-fields, one paragraph each.
func FormatField(f Field) string {
	if f.detail != nil {
		parts := f.detail.Paragraphs()
		if len(parts) == 0 {
			return Placeholder
		}
		return strings.Join(parts, "\n\n")
	}
	if strings.TrimSpace(f.text) == "" {
		return Placeholder
	}
	return f.text
}

// FormatCode renders one code as "<code> - <name>".
func FormatCode(c Code) string {
	switch {
	case c.Legacy != "":
		return c.Legacy
	case c.Code == "" || c.Name == "":
		return InvalidCode
	default:
		return c.Code + " - " + c.Name
	}
}

// FormatCodes renders a code list one code per line.
func FormatCodes(l CodeList) string {
	if len(l) == 0 {
		return Placeholder
	}
	lines := make([]string, len(l))
	for i, c := range l {
		lines[i] = FormatCode(c)
	}
	return strings.Join(lines, "\n")
}

// ParseCodeLine splits a rendered code line back into its code and name.
// Lines without the separator, and the invalid marker, report false.
func ParseCodeLine(line string) (Code, bool) {
	line = strings.TrimSpace(line)
	if line == InvalidCode {
		return Code{}, false
	}
	code, name, ok := strings.Cut(line, " - ")
	if !ok || code == "" || name == "" {
		return Code{}, false
	}
	return Code{Code: code, Name: name}, true
}

// Section returns the rendered body of one section, by key.
func (n StructuredNote) Section(key string) string {
	switch key {
	case SectionChiefComplaint:
		return FormatField(n.ChiefComplaint)
	case SectionHPI:
		return FormatField(n.HPI)
	case SectionROS:
		return FormatField(n.ROS)
	case SectionAssessment:
		return FormatField(n.Assessment)
	case SectionPlan:
		return FormatField(n.Plan)
	case SectionMedications:
		return FormatField(n.Medications)
	case SectionFollowUp:
		return FormatField(n.FollowUp)
	case SectionDiagnosisCodes:
		return FormatCodes(n.DiagnosisCodes)
	case SectionCPTCodes:
		return FormatCodes(n.CPTCodes)
	}
	return ""
}

// Included reports whether key is enabled. A nil map enables every section.
func Included(include map[string]bool, key string) bool {
	if include == nil {
		return true
	}
	return include[key]
}

// Document renders the insertable note: a dated header, the enabled sections
// in canonical order, and the review trailer.
func Document(n StructuredNote, include map[string]bool, now time.Time) string {
	var b strings.Builder
	b.WriteString("Clinical Note - ")
	b.WriteString(now.Format(DateLayout))
	b.WriteString("\n\n")

	var sections []string
	for _, s := range Sections {
		if !Included(include, s.Key) {
			continue
		}
		body := n.Section(s.Key)
		sep := ": "
		if s.Key == SectionDiagnosisCodes || s.Key == SectionCPTCodes {
			sep = ":\n"
		}
		sections = append(sections, s.Label+sep+body)
	}
	if len(sections) > 0 {
		b.WriteString(strings.Join(sections, "\n\n"))
		b.WriteString("\n\n")
	}

	b.WriteString("[Generated by Clinote - Please review and edit as needed]")
	return b.String()
}
