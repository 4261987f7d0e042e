package ivr

import (
	"encoding/xml"
	"fmt"
)

// Response is a TwiML document. Verbs are rendered in order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

// Gather collects speech or keypad input and posts it to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	MaxSpeechTime int      `xml:"maxSpeechTime,attr,omitempty"`
	NumDigits     int      `xml:"numDigits,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	Prompt        *Say
}

// Redirect moves the call to another webhook URL.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (r *Response) say(text string) *Response {
	r.Verbs = append(r.Verbs, Say{Text: text})
	return r
}

func (r *Response) gatherSpeech(action, prompt string) *Response {
	r.Verbs = append(r.Verbs, Gather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: "auto",
		MaxSpeechTime: 5,
		Prompt:        &Say{Text: prompt},
	})
	return r
}

func (r *Response) gatherDigit(action, prompt string) *Response {
	r.Verbs = append(r.Verbs, Gather{
		Input:     "dtmf",
		Action:    action,
		Method:    "POST",
		NumDigits: 1,
		Timeout:   8,
		Prompt:    &Say{Text: prompt},
	})
	return r
}

func (r *Response) redirect(url string) *Response {
	r.Verbs = append(r.Verbs, Redirect{Method: "POST", URL: url})
	return r
}

func (r *Response) hangup() *Response {
	r.Verbs = append(r.Verbs, Hangup{})
	return r
}

// Bytes renders the document with an XML declaration.
func (r *Response) Bytes() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Apology ends a call that could not be handled.
func Apology() *Response {
	return new(Response).say("Sorry, something went wrong. Please call again later.").hangup()
}
