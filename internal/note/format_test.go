package note

import (
	"strings"
	"testing"
	"time"
)

func TestFormatFieldStructuredHPI(t *testing.T) {
	f := Structured(&HPIDetail{
		Timeline:      "Three days ago",
		PatientQuotes: FlexList{"it throbs", "I can't sleep"},
		Impact:        "Missed work",
	})

	want := "Three days ago\n\n" +
		`Patient quotes: "it throbs", "I can't sleep"` + "\n\n" +
		"Impact: Missed work"
	if got := FormatField(f); got != want {
		t.Errorf("FormatField =\n%s\nwant\n%s", got, want)
	}
}

func TestFormatFieldEmpty(t *testing.T) {
	tests := []struct {
		name string
		f    Field
	}{
		{"zero", Field{}},
		{"blank text", Text("   ")},
		{"empty detail", Structured(&PlanDetail{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatField(tt.f); got != Placeholder {
				t.Errorf("FormatField = %q, want %q", got, Placeholder)
			}
		})
	}
}

func TestFormatCodeRoundTrip(t *testing.T) {
	codes := []Code{
		{Code: "J06.9", Name: "Acute upper respiratory infection, unspecified"},
		{Code: "99214", Name: "Office visit - established patient"},
	}
	for _, c := range codes {
		line := FormatCode(c)
		got, ok := ParseCodeLine(line)
		if !ok {
			t.Fatalf("ParseCodeLine(%q) failed", line)
		}
		if got != c {
			t.Errorf("round trip = %+v, want %+v", got, c)
		}
	}
}

func TestFormatCodeInvalid(t *testing.T) {
	for _, c := range []Code{{Code: "J06.9"}, {Name: "Cough"}, {}} {
		if got := FormatCode(c); got != InvalidCode {
			t.Errorf("FormatCode(%+v) = %q, want %q", c, got, InvalidCode)
		}
	}
	if _, ok := ParseCodeLine(InvalidCode); ok {
		t.Error("invalid marker should not parse")
	}
	if got := FormatCodes(nil); got != Placeholder {
		t.Errorf("FormatCodes(nil) = %q", got)
	}
	got := FormatCodes(CodeList{{Code: "A"}, {Code: "B", Name: "Bee"}})
	if got != InvalidCode+"\nB - Bee" {
		t.Errorf("FormatCodes = %q", got)
	}
}

func TestDocumentSectionOrder(t *testing.T) {
	n := Empty()
	n.ChiefComplaint = Text("Cough")
	n.Plan = Text("Rest")
	n.CPTCodes = CodeList{{Code: "99213", Name: "Office visit"}}
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	doc := Document(n, nil, now)
	if !strings.HasPrefix(doc, "Clinical Note - 3/9/2026\n\n") {
		t.Errorf("header = %q", strings.SplitN(doc, "\n", 2)[0])
	}
	if !strings.HasSuffix(doc, "[Generated by Clinote - Please review and edit as needed]") {
		t.Error("missing trailer")
	}
	last := -1
	for _, s := range Sections {
		i := strings.Index(doc, s.Label+":")
		if i < 0 {
			t.Fatalf("section %q missing", s.Label)
		}
		if i < last {
			t.Errorf("section %q out of order", s.Label)
		}
		last = i
	}
	if !strings.Contains(doc, "CPT Codes:\n99213 - Office visit") {
		t.Error("cpt codes not rendered on their own line")
	}
}

func TestDocumentIncludeSections(t *testing.T) {
	n := Empty()
	n.ChiefComplaint = Text("Rash")
	include := map[string]bool{SectionChiefComplaint: true, SectionPlan: false}

	doc := Document(n, include, time.Now())
	if !strings.Contains(doc, "Chief Complaint: Rash") {
		t.Error("chief complaint missing")
	}
	for _, label := range []string{"Plan:", "Review of Systems:", "Diagnosis Codes:"} {
		if strings.Contains(doc, label) {
			t.Errorf("%s should be excluded", label)
		}
	}
}
