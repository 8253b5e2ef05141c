package telephony

import (
	"encoding/xml"
	"fmt"
	"strconv"
)

// ConferenceOptions controls the rendered <Conference> verb.
type ConferenceOptions struct {
	StartConferenceOnEnter bool
	EndConferenceOnExit    bool
	Beep                   bool
	Muted                  bool
	WaitURL                string
	StatusCallbackURL      string
}

type lamlConference struct {
	StartConferenceOnEnter string `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    string `xml:"endConferenceOnExit,attr"`
	Beep                   string `xml:"beep,attr"`
	Muted                  string `xml:"muted,attr,omitempty"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	Name                   string `xml:",chardata"`
}

type lamlDial struct {
	Conference *lamlConference `xml:"Conference,omitempty"`
}

type lamlResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Dial    *lamlDial `xml:"Dial,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

// ConferenceResponse renders call-control markup that places the answering
// leg into the named conference.
func ConferenceResponse(name string, opts ConferenceOptions) ([]byte, error) {
	resp := lamlResponse{
		Dial: &lamlDial{
			Conference: &lamlConference{
				StartConferenceOnEnter: strconv.FormatBool(opts.StartConferenceOnEnter),
				EndConferenceOnExit:    strconv.FormatBool(opts.EndConferenceOnExit),
				Beep:                   strconv.FormatBool(opts.Beep),
				WaitURL:                opts.WaitURL,
				StatusCallback:         opts.StatusCallbackURL,
				Name:                   name,
			},
		},
	}
	if opts.Muted {
		resp.Dial.Conference.Muted = "true"
	}

	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("rendering conference markup: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// HangupResponse renders markup that immediately ends the answering leg.
// Served when a call answers after its dial group is already terminal.
func HangupResponse() []byte {
	body, _ := xml.Marshal(lamlResponse{Hangup: &struct{}{}})
	return append([]byte(xml.Header), body...)
}
