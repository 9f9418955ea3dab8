package dxpipe

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/bmp"
)

// testNow is the fixed clock of every pipeline test. The 185-day window
// starts on 09/05/2024 12:00.
var testNow = time.Date(2024, 11, 10, 12, 0, 0, 0, time.UTC)

func testConfig(logw io.Writer) Config {
	if logw == nil {
		logw = io.Discard
	}
	return Config{
		Now:      func() time.Time { return testNow },
		Location: time.UTC,
		Logger:   slog.New(slog.NewTextHandler(logw, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}

func rtfBody(lines ...string) string {
	src := `{\rtf1\ansi\deff0{\fonttbl{\f0 Arial;}}\f0 ` + strings.Join(lines, `\par `) + `\par}`
	return base64.StdEncoding.EncodeToString([]byte(src))
}

func zipBody(t *testing.T, members ...[]byte) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for i, m := range members {
		fw, err := w.Create(fmt.Sprintf("member%d", i))
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(m)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func bitmap(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type doc struct {
	id, category, date, body string
}

// rawRTFBody encodes an RTF document verbatim, without the spacing rtfBody adds.
func rawRTFBody(src string) string {
	return base64.StdEncoding.EncodeToString([]byte(src))
}

func dischargeDoc(id, date, body string) doc {
	return doc{id: id, category: "Discharge Summary", date: date, body: body}
}

// sepsisDoc and pneumoniaDoc are the two reference summaries.
func sepsisDoc(id, date string) doc {
	return dischargeDoc(id, date, rtfBody("HISTORY", "PRINCIPAL DIAGNOSIS", "", "1: Sepsis"))
}

func pneumoniaDoc(id, date string) doc {
	return dischargeDoc(id, date, rtfBody("PRINCIPAL DIAGNOSIS", "", "- Pneumonia"))
}

type chartOpts struct {
	visits []string // VISITDATE values, Dr Smith
}

func chartXML(opts chartOpts, docs ...doc) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<PatientRecord>
  <Demographics><Patient><SEXCODE>2</SEXCODE><DOB>11/11/1950 12:00:00 AM</DOB><ETHNICCODE>4</ETHNICCODE></Patient></Demographics>
  <ClinicalDetails><ClinicalDetails><SMOKINGSTATUS>Ex smoker</SMOKINGSTATUS></ClinicalDetails></ClinicalDetails>
  <PastHistory>
    <Condition><STATUSCODE>1</STATUSCODE><ITEMTEXT>Hypertension</ITEMTEXT></Condition>
    <Condition><STATUSCODE>0</STATUSCODE><ITEMTEXT>Fractured wrist</ITEMTEXT></Condition>
  </PastHistory>
  <Visits>
`)
	for i, v := range opts.visits {
		fmt.Fprintf(&sb, "    <Visit><INTERNALID>v%d</INTERNALID><VISITDATE>%s</VISITDATE><DRNAME>Dr Smith</DRNAME></Visit>\n", i, v)
	}
	sb.WriteString("  </Visits>\n  <CorrespondenceIn>\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, `    <Document>
      <INTERNALID>%s</INTERNALID>
      <CATEGORY>%s</CATEGORY>
      <CORRESPONDENCEDATE>%s</CORRESPONDENCEDATE>
      <DocumentPage><Content>%s</Content></DocumentPage>
    </Document>
`, d.id, d.category, d.date, d.body)
	}
	sb.WriteString("  </CorrespondenceIn>\n</PatientRecord>\n")
	return sb.String()
}

func writeChart(t *testing.T, dir, patient, xml string) string {
	t.Helper()
	path := filepath.Join(dir, patient+".xml")
	if err := os.WriteFile(path, []byte(xml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
