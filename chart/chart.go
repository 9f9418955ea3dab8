// Package chart reads per-patient medical-record exports (one XML document per
// patient) and exposes the parts the extraction pipeline and its reporting
// collaborators need: correspondence, conditions, visits and demographics.
package chart

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/hazyhaar/dischargedx/safeio"
)

// DateLayout matches "DD/MM/YYYY HH:MM:SS AM|PM". The hour field accepts both
// 12-hour values (made absolute by the marker) and 24-hour values.
const DateLayout = "2/1/2006 15:04:05 PM"

// Chart is one patient export.
type Chart struct {
	ID   string `xml:"-"`
	Path string `xml:"-"`

	Documents  []Document      `xml:"CorrespondenceIn>Document"`
	Conditions []Condition     `xml:"PastHistory>Condition"`
	Visits     []Visit         `xml:"Visits>Visit"`
	Patient    Patient         `xml:"Demographics>Patient"`
	Clinical   ClinicalDetails `xml:"ClinicalDetails>ClinicalDetails"`
}

// Document is an incoming correspondence item.
type Document struct {
	InternalID string   `xml:"INTERNALID"`
	Categories []string `xml:"CATEGORY"`
	Date       string   `xml:"CORRESPONDENCEDATE"`
	Pages      []Page   `xml:"DocumentPage"`
}

// Page holds the encoded content of a document.
type Page struct {
	Content string `xml:"Content"`
}

// Condition is a past-history entry. StatusCode "0" means inactive.
type Condition struct {
	StatusCode string `xml:"STATUSCODE"`
	Text       string `xml:"ITEMTEXT"`
}

// Visit is a consultation recorded in the chart.
type Visit struct {
	ID     string `xml:"INTERNALID"`
	Date   string `xml:"VISITDATE"`
	Doctor string `xml:"DRNAME"`
}

type Patient struct {
	SexCode    string `xml:"SEXCODE"`
	DOB        string `xml:"DOB"`
	EthnicCode string `xml:"ETHNICCODE"`
}

type ClinicalDetails struct {
	SmokingStatus string `xml:"SMOKINGSTATUS"`
}

// Correspondence is one categorized document, flattened for the pipeline.
type Correspondence struct {
	Ref      string // "<patient>#<internal id or position>"
	Category string
	RawDate  string
	Body     string
}

// Parse decodes a chart from r. Any decoding failure is a *ChartUnreadableError.
func Parse(id string, r io.Reader) (*Chart, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var c Chart
	if err := dec.Decode(&c); err != nil {
		return nil, &ChartUnreadableError{PatientID: id, Err: err}
	}
	c.ID = id
	return &c, nil
}

// ParseFile reads and decodes the chart at path. The patient id is the file
// name without its extension.
func ParseFile(path string, maxBytes int64) (*Chart, error) {
	id := PatientIDFromPath(path)
	data, err := safeio.ReadFile(path, maxBytes)
	if err != nil {
		return nil, &ChartUnreadableError{PatientID: id, Path: path, Err: err}
	}
	c, err := Parse(id, bytes.NewReader(data))
	if err != nil {
		var cu *ChartUnreadableError
		if errors.As(err, &cu) {
			cu.Path = path
		}
		return nil, err
	}
	c.Path = path
	return c, nil
}

// PatientIDFromPath derives the patient id from an export file name.
func PatientIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseDate parses a chart date in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
}

// Correspondence returns the documents carrying category, in chart order.
// A document tagged more than once with the category is returned once.
func (c *Chart) Correspondence(category string) []Correspondence {
	var out []Correspondence
	for i, d := range c.Documents {
		if !d.hasCategory(category) {
			continue
		}
		ref := d.InternalID
		if ref == "" {
			ref = strconv.Itoa(i)
		}
		var body string
		if len(d.Pages) > 0 {
			body = strings.TrimSpace(d.Pages[0].Content)
		}
		out = append(out, Correspondence{
			Ref:      c.ID + "#" + strings.TrimSpace(ref),
			Category: category,
			RawDate:  d.Date,
			Body:     body,
		})
	}
	return out
}

func (d Document) hasCategory(category string) bool {
	for _, cat := range d.Categories {
		if strings.TrimSpace(cat) == category {
			return true
		}
	}
	return false
}

// ActiveConditions returns the text of conditions with a non-zero status code.
func (c *Chart) ActiveConditions() ([]string, error) {
	var out []string
	for i, cond := range c.Conditions {
		code, err := strconv.Atoi(strings.TrimSpace(cond.StatusCode))
		if err != nil {
			return nil, fmt.Errorf("chart %s: condition %d: bad STATUSCODE %q", c.ID, i, cond.StatusCode)
		}
		if code != 0 {
			out = append(out, strings.TrimSpace(cond.Text))
		}
	}
	return out, nil
}

// Demographics is the patient summary used by the no-follow-up report.
type Demographics struct {
	Age           int    `json:"age"`
	SexCode       string `json:"sex_code"` // 1 female, 2 male
	EthnicCode    string `json:"ethnic_code"`
	SmokingStatus string `json:"smoking_status"`
}

// Demographics computes the patient's age at now.
func (c *Chart) Demographics(now time.Time) (Demographics, error) {
	dob, err := ParseDate(c.Patient.DOB, now.Location())
	if err != nil {
		return Demographics{}, &DateParseError{Field: "DOB", Value: c.Patient.DOB, Err: err}
	}
	return Demographics{
		Age:           ageAt(dob, now),
		SexCode:       strings.TrimSpace(c.Patient.SexCode),
		EthnicCode:    strings.TrimSpace(c.Patient.EthnicCode),
		SmokingStatus: strings.TrimSpace(c.Clinical.SmokingStatus),
	}, nil
}

func ageAt(dob, now time.Time) int {
	age := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age
}
