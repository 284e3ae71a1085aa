// Package analysis sends an encoded image to a remote vision-language model
// and parses its structured diagnostic summary. It owns all failure
// classification for the network/model boundary.
package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/medscan/internal/fault"
)

// Report is the structured interpretation of one medical image. All four
// fields are mandatory; ProfessionalDetails keeps the model's relevance
// ordering and may be empty.
type Report struct {
	ImagingType         string   `json:"imagingType"`
	OrganName           string   `json:"organName"`
	Findings            string   `json:"findings"`
	ProfessionalDetails []string `json:"professionalDetails"`
}

// parseReport validates a raw model payload against the report schema,
// failing closed: a missing field, a wrong type, or a non-array detail list
// is a malformed response, never a partial result.
func parseReport(raw string) (*Report, error) {
	cleaned := stripFences(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse, "model response is not a JSON object", err)
	}

	report := &Report{}
	for name, target := range map[string]*string{
		"imagingType": &report.ImagingType,
		"organName":   &report.OrganName,
		"findings":    &report.Findings,
	} {
		value, ok := fields[name]
		if !ok {
			return nil, fault.New(fault.MalformedResponse,
				fmt.Sprintf("model response is missing required field %q", name))
		}
		if err := json.Unmarshal(value, target); err != nil {
			return nil, fault.Wrap(fault.MalformedResponse,
				fmt.Sprintf("model response field %q is not a string", name), err)
		}
	}

	details, ok := fields["professionalDetails"]
	if !ok {
		return nil, fault.New(fault.MalformedResponse,
			`model response is missing required field "professionalDetails"`)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(details), []byte("[")) {
		return nil, fault.New(fault.MalformedResponse,
			`model response field "professionalDetails" is not an array`)
	}
	if err := json.Unmarshal(details, &report.ProfessionalDetails); err != nil {
		return nil, fault.Wrap(fault.MalformedResponse,
			`model response field "professionalDetails" is not an array of strings`, err)
	}
	if report.ProfessionalDetails == nil {
		report.ProfessionalDetails = []string{}
	}

	return report, nil
}

// stripFences removes markdown code fences some models wrap around JSON.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	return strings.TrimSpace(raw)
}
