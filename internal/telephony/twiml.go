package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Response is a TwiML document built verb by verb:
//
//	NewResponse().Say(greeting).Gather(g).Redirect(noInputURL)
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name  `xml:"Gather"`
	Input         string    `xml:"input,attr"`
	Action        string    `xml:"action,attr"`
	Method        string    `xml:"method,attr"`
	Timeout       string    `xml:"timeout,attr,omitempty"`
	SpeechTimeout string    `xml:"speechTimeout,attr,omitempty"`
	Prompt        *twimlSay `xml:"Say,omitempty"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:"Number"`
}

const voice = "alice"

// Gather is one bounded speech listen window.
type Gather struct {
	Action        string
	Prompt        string
	Timeout       time.Duration
	SpeechTimeout time.Duration
}

func NewResponse() *Response { return &Response{} }

func (r *Response) Say(text string) *Response {
	if text = strings.TrimSpace(text); text != "" {
		r.Verbs = append(r.Verbs, twimlSay{Voice: voice, Text: text})
	}
	return r
}

func (r *Response) Gather(g Gather) *Response {
	v := twimlGather{
		Input:         "speech",
		Action:        g.Action,
		Method:        "POST",
		Timeout:       seconds(g.Timeout),
		SpeechTimeout: seconds(g.SpeechTimeout),
	}
	if g.Prompt != "" {
		v.Prompt = &twimlSay{Voice: voice, Text: g.Prompt}
	}
	r.Verbs = append(r.Verbs, v)
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.Verbs = append(r.Verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Hangup() *Response {
	r.Verbs = append(r.Verbs, twimlHangup{})
	return r
}

func (r *Response) Dial(number string) *Response {
	r.Verbs = append(r.Verbs, twimlDial{Number: number})
	return r
}

// Render encodes the document with an XML header. Text is escaped by the encoder.
func (r *Response) Render() (string, error) {
	if len(r.Verbs) == 0 {
		return "", errors.New("telephony: empty twiml response")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func seconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.Itoa(int(d.Round(time.Second) / time.Second))
}
