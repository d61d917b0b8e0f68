package plivo

import (
	"encoding/xml"
	"strings"
)

// Answer describes the markup returned when Plivo fetches the answer URL: one prompt
// (played audio or native speech) followed by a recording of the reply.
type Answer struct {
	PlayURL       string
	SpeakText     string
	SpeakVoice    string
	SpeakLanguage string
	RecordAction  string
	MaxLength     int
	FinishOnKey   string
}

type response struct {
	XMLName xml.Name `xml:"Response"`
	Play    *play    `xml:"Play,omitempty"`
	Speak   *speak   `xml:"Speak,omitempty"`
	Record  *record  `xml:"Record,omitempty"`
}

type play struct {
	URL string `xml:",chardata"`
}

type speak struct {
	Voice    string `xml:"voice,attr,omitempty"`
	Language string `xml:"language,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type record struct {
	Action      string `xml:"action,attr"`
	Method      string `xml:"method,attr"`
	MaxLength   int    `xml:"maxLength,attr"`
	FinishOnKey string `xml:"finishOnKey,attr"`
	PlayBeep    bool   `xml:"playBeep,attr"`
}

// Render returns the XML document. PlayURL wins over SpeakText when both are set.
func (a Answer) Render() (string, error) {
	doc := response{}
	switch {
	case a.PlayURL != "":
		doc.Play = &play{URL: a.PlayURL}
	case a.SpeakText != "":
		doc.Speak = &speak{Voice: a.SpeakVoice, Language: a.SpeakLanguage, Text: a.SpeakText}
	}
	if a.RecordAction != "" {
		maxLength := a.MaxLength
		if maxLength <= 0 {
			maxLength = 60
		}
		finish := a.FinishOnKey
		if finish == "" {
			finish = "#"
		}
		doc.Record = &record{Action: a.RecordAction, Method: "POST", MaxLength: maxLength, FinishOnKey: finish, PlayBeep: true}
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(xml.Header)
	b.Write(out)
	return b.String(), nil
}
