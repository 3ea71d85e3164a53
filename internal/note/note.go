// Package note defines the structured clinical note and renders it to text.
//
// Model output is semi-structured: any section may arrive as a plain string or
// as a nested object, and code lists come in an old (string) and a new
// ({code, name}) shape. Decoding never rejects a section because of its shape;
// it records which shape arrived so rendering can dispatch on it.
package note

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Placeholder is used for any section that has no content.
const Placeholder = "Not specified"

// Section keys, shared with Settings.IncludeSections.
const (
	SectionChiefComplaint = "chiefComplaint"
	SectionHPI            = "hpi"
	SectionROS            = "ros"
	SectionAssessment     = "assessment"
	SectionPlan           = "plan"
	SectionMedications    = "medications"
	SectionFollowUp       = "followUp"
	SectionDiagnosisCodes = "diagnosisCodes"
	SectionCPTCodes       = "cptCodes"
)

// SectionInfo pairs a section key with its human-readable label.
type SectionInfo struct {
	Key   string
	Label string
}

// Sections lists every section in canonical document order.
var Sections = []SectionInfo{
	{SectionChiefComplaint, "Chief Complaint"},
	{SectionHPI, "History of Present Illness"},
	{SectionROS, "Review of Systems"},
	{SectionAssessment, "Assessment"},
	{SectionPlan, "Plan"},
	{SectionMedications, "Medications"},
	{SectionFollowUp, "Follow-up"},
	{SectionDiagnosisCodes, "Diagnosis Codes"},
	{SectionCPTCodes, "CPT Codes"},
}

// StructuredNote is one summary of a session transcript. A newer note replaces
// an older one wholesale.
type StructuredNote struct {
	ChiefComplaint Field
	HPI            Field
	ROS            Field
	Assessment     Field
	Plan           Field
	Medications    Field
	FollowUp       Field
	DiagnosisCodes CodeList
	CPTCodes       CodeList
}

// Empty returns a note whose every section is the placeholder.
func Empty() StructuredNote {
	p := Text(Placeholder)
	return StructuredNote{
		ChiefComplaint: p,
		HPI:            p,
		ROS:            p,
		Assessment:     p,
		Plan:           p,
		Medications:    p,
		FollowUp:       p,
	}
}

// Degraded returns the note used when summarization failed: placeholders
// everywhere, the error in the HPI, no codes.
func Degraded(err error) StructuredNote {
	n := Empty()
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	n.HPI = Text("API Error: " + msg)
	return n
}

// Field is either plain text or a structured sub-record.
type Field struct {
	text   string
	detail Detail
}

// Text returns a plain-text field.
func Text(s string) Field { return Field{text: s} }

// Structured returns a field carrying a sub-record.
func Structured(d Detail) Field { return Field{detail: d} }

// IsStructured reports whether the field carries a sub-record.
func (f Field) IsStructured() bool { return f.detail != nil }

// Plain returns the text of a plain field.
func (f Field) Plain() string { return f.text }

// Detail returns the sub-record of a structured field, or nil.
func (f Field) Detail() Detail { return f.detail }

// MarshalJSON encodes text fields as strings and structured fields as objects.
func (f Field) MarshalJSON() ([]byte, error) {
	if f.detail != nil {
		return json.Marshal(f.detail)
	}
	return json.Marshal(f.text)
}

// Detail is a structured sub-record of a section.
type Detail interface {
	// Paragraphs returns the present sub-fields, one rendered paragraph each.
	Paragraphs() []string
}

// HPIDetail is the structured history of present illness.
type HPIDetail struct {
	Timeline           FlexString `json:"timeline,omitempty"`
	PatientQuotes      FlexList   `json:"patientQuotes,omitempty"`
	Severity           FlexString `json:"severity,omitempty"`
	AssociatedSymptoms FlexString `json:"associatedSymptoms,omitempty"`
	AggravatingFactors FlexString `json:"aggravatingFactors,omitempty"`
	AlleviatingFactors FlexString `json:"alleviatingFactors,omitempty"`
	Impact             FlexString `json:"impact,omitempty"`
}

func (h *HPIDetail) Paragraphs() []string {
	var parts []string
	if h.Timeline != "" {
		parts = append(parts, string(h.Timeline))
	}
	if len(h.PatientQuotes) > 0 {
		quoted := make([]string, len(h.PatientQuotes))
		for i, q := range h.PatientQuotes {
			quoted[i] = `"` + q + `"`
		}
		parts = append(parts, "Patient quotes: "+strings.Join(quoted, ", "))
	}
	parts = appendLabeled(parts, "Severity", h.Severity)
	parts = appendLabeled(parts, "Associated symptoms", h.AssociatedSymptoms)
	parts = appendLabeled(parts, "Aggravating factors", h.AggravatingFactors)
	parts = appendLabeled(parts, "Alleviating factors", h.AlleviatingFactors)
	parts = appendLabeled(parts, "Impact", h.Impact)
	return parts
}

// AssessmentDetail is the structured clinical assessment.
type AssessmentDetail struct {
	PrimaryDiagnosis      FlexString `json:"primaryDiagnosis,omitempty"`
	DifferentialDiagnoses FlexList   `json:"differentialDiagnoses,omitempty"`
	ClinicalReasoning     FlexString `json:"clinicalReasoning,omitempty"`
	SeverityAssessment    FlexString `json:"severityAssessment,omitempty"`
	RiskFactors           FlexString `json:"riskFactors,omitempty"`
	Complications         FlexString `json:"complications,omitempty"`
}

func (a *AssessmentDetail) Paragraphs() []string {
	var parts []string
	parts = appendLabeled(parts, "Primary Diagnosis", a.PrimaryDiagnosis)
	if len(a.DifferentialDiagnoses) > 0 {
		parts = append(parts, "Differential Diagnoses: "+strings.Join(a.DifferentialDiagnoses, ", "))
	}
	parts = appendLabeled(parts, "Clinical Reasoning", a.ClinicalReasoning)
	parts = appendLabeled(parts, "Severity Assessment", a.SeverityAssessment)
	parts = appendLabeled(parts, "Risk Factors", a.RiskFactors)
	parts = appendLabeled(parts, "Complications", a.Complications)
	return parts
}

// PlanDetail is the structured treatment plan.
type PlanDetail struct {
	ImmediateInterventions FlexString `json:"immediateInterventions,omitempty"`
	Medications            FlexString `json:"medications,omitempty"`
	DiagnosticTesting      FlexString `json:"diagnosticTesting,omitempty"`
	Referrals              FlexString `json:"referrals,omitempty"`
	LifestyleModifications FlexString `json:"lifestyleModifications,omitempty"`
	PatientEducation       FlexString `json:"patientEducation,omitempty"`
	FollowUp               FlexString `json:"followUp,omitempty"`
}

func (p *PlanDetail) Paragraphs() []string {
	var parts []string
	parts = appendLabeled(parts, "Immediate Interventions", p.ImmediateInterventions)
	parts = appendLabeled(parts, "Medications", p.Medications)
	parts = appendLabeled(parts, "Diagnostic Testing", p.DiagnosticTesting)
	parts = appendLabeled(parts, "Referrals", p.Referrals)
	parts = appendLabeled(parts, "Lifestyle Modifications", p.LifestyleModifications)
	parts = appendLabeled(parts, "Patient Education", p.PatientEducation)
	parts = appendLabeled(parts, "Follow-up", p.FollowUp)
	return parts
}

// GenericDetail holds an object returned for a section that has no known
// sub-record shape.
type GenericDetail map[string]FlexString

func (g *GenericDetail) Paragraphs() []string {
	keys := make([]string, 0, len(*g))
	for k, v := range *g {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+string((*g)[k]))
	}
	return parts
}

func appendLabeled(parts []string, label string, v FlexString) []string {
	if v == "" {
		return parts
	}
	return append(parts, label+": "+string(v))
}

// UnmarshalJSON decodes a note from model or wire output. Only a non-object
// top level is an error; each section tolerates any shape.
func (n *StructuredNote) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChiefComplaint json.RawMessage `json:"chiefComplaint"`
		HPI            json.RawMessage `json:"hpi"`
		ROS            json.RawMessage `json:"ros"`
		Assessment     json.RawMessage `json:"assessment"`
		Plan           json.RawMessage `json:"plan"`
		Medications    json.RawMessage `json:"medications"`
		FollowUp       json.RawMessage `json:"followUp"`
		DiagnosisCodes json.RawMessage `json:"diagnosisCodes"`
		CPTCodes       json.RawMessage `json:"cptCodes"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode note: %w", err)
	}

	generic := func() Detail { return &GenericDetail{} }
	*n = StructuredNote{
		ChiefComplaint: decodeField(raw.ChiefComplaint, generic),
		HPI:            decodeField(raw.HPI, func() Detail { return &HPIDetail{} }),
		ROS:            decodeField(raw.ROS, generic),
		Assessment:     decodeField(raw.Assessment, func() Detail { return &AssessmentDetail{} }),
		Plan:           decodeField(raw.Plan, func() Detail { return &PlanDetail{} }),
		Medications:    decodeField(raw.Medications, generic),
		FollowUp:       decodeField(raw.FollowUp, generic),
		DiagnosisCodes: decodeCodes(raw.DiagnosisCodes),
		CPTCodes:       decodeCodes(raw.CPTCodes),
	}
	return nil
}

// MarshalJSON encodes the note with the same keys it is decoded from.
func (n StructuredNote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ChiefComplaint Field    `json:"chiefComplaint"`
		HPI            Field    `json:"hpi"`
		ROS            Field    `json:"ros"`
		Assessment     Field    `json:"assessment"`
		Plan           Field    `json:"plan"`
		Medications    Field    `json:"medications"`
		FollowUp       Field    `json:"followUp"`
		DiagnosisCodes CodeList `json:"diagnosisCodes"`
		CPTCodes       CodeList `json:"cptCodes"`
	}{n.ChiefComplaint, n.HPI, n.ROS, n.Assessment, n.Plan, n.Medications, n.FollowUp,
		nonNil(n.DiagnosisCodes), nonNil(n.CPTCodes)})
}

func nonNil(c CodeList) CodeList {
	if c == nil {
		return CodeList{}
	}
	return c
}

func decodeField(raw json.RawMessage, newDetail func() Detail) Field {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Field{}
	}
	switch raw[0] {
	case '{':
		d := newDetail()
		if err := json.Unmarshal(raw, d); err != nil {
			return Text(string(raw))
		}
		return Structured(d)
	default:
		var t FlexString
		if err := json.Unmarshal(raw, &t); err != nil {
			return Text(string(raw))
		}
		return Text(string(t))
	}
}

// FlexString is a string that also decodes from numbers, booleans and arrays.
type FlexString string

func (t *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = FlexString(s)
	case '[':
		var l FlexList
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		*t = FlexString(strings.Join(l, "\n"))
	default:
		*t = FlexString(string(data))
	}
	return nil
}

// FlexList is a string list that also decodes from a single scalar.
type FlexList []string

func (l *FlexList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] != '[' {
		var t FlexString
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if t != "" {
			*l = FlexList{string(t)}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(FlexList, 0, len(items))
	for _, item := range items {
		var t FlexString
		if err := json.Unmarshal(item, &t); err != nil {
			t = FlexString(bytes.TrimSpace(item))
		}
		if t != "" {
			out = append(out, string(t))
		}
	}
	*l = out
	return nil
}
