package twiml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Parse parses TwiML XML and returns a Response AST
func Parse(data []byte) (*Response, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml parse error: %w", err)
		}

		if se, ok := token.(xml.StartElement); ok {
			if se.Name.Local != "Response" {
				return nil, fmt.Errorf("unexpected root element <%s>", se.Name.Local)
			}
			resp := &Response{}
			if err := parseResponse(decoder, &se, resp); err != nil {
				return nil, err
			}
			return resp, nil
		}
	}

	return nil, fmt.Errorf("no <Response> element found")
}

func parseResponse(decoder *xml.Decoder, start *xml.StartElement, resp *Response) error {
	if len(start.Attr) > 0 {
		return fmt.Errorf("unknown attribute '%s' on <Response>", start.Attr[0].Name.Local)
	}

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return fmt.Errorf("unterminated <Response>")
		}
		if err != nil {
			return err
		}

		switch t := token.(type) {
		case xml.StartElement:
			node, err := parseNode(decoder, &t)
			if err != nil {
				return err
			}
			resp.Children = append(resp.Children, node)
		case xml.EndElement:
			if t.Name.Local == "Response" {
				return nil
			}
		}
	}
}

func parseNode(decoder *xml.Decoder, start *xml.StartElement) (Node, error) {
	switch start.Name.Local {
	case "Say":
		return parseSay(decoder, start)
	case "Pause":
		return parsePause(decoder, start)
	case "Dial":
		return parseDial(decoder, start)
	case "Redirect":
		return parseRedirect(decoder, start)
	case "Hangup":
		if err := decoder.Skip(); err != nil {
			return nil, err
		}
		return &Hangup{}, nil
	default:
		return nil, fmt.Errorf("unsupported TwiML element: <%s>", start.Name.Local)
	}
}

func parseSay(decoder *xml.Decoder, start *xml.StartElement) (*Say, error) {
	say := &Say{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "voice":
			say.Voice = attr.Value
		case "language":
			say.Language = attr.Value
		default:
			return nil, fmt.Errorf("unknown attribute '%s' on <Say>", attr.Name.Local)
		}
	}
	if err := decoder.DecodeElement(&say.Text, start); err != nil {
		return nil, err
	}
	say.Text = strings.TrimSpace(say.Text)
	return say, nil
}

func parsePause(decoder *xml.Decoder, start *xml.StartElement) (*Pause, error) {
	pause := &Pause{Length: time.Second}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "length":
			n, err := strconv.Atoi(attr.Value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid <Pause> length %q", attr.Value)
			}
			pause.Length = time.Duration(n) * time.Second
		default:
			return nil, fmt.Errorf("unknown attribute '%s' on <Pause>", attr.Name.Local)
		}
	}
	if err := decoder.Skip(); err != nil {
		return nil, err
	}
	return pause, nil
}

func parseDial(decoder *xml.Decoder, start *xml.StartElement) (*Dial, error) {
	dial := &Dial{
		Method:  "POST",
		Timeout: 30 * time.Second,
	}

	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "action":
			dial.Action = attr.Value
		case "method":
			dial.Method = strings.ToUpper(attr.Value)
		case "timeout":
			if n, err := strconv.Atoi(attr.Value); err == nil {
				dial.Timeout = time.Duration(n) * time.Second
			}
		default:
			return nil, fmt.Errorf("unknown attribute '%s' on <Dial>", attr.Name.Local)
		}
	}

	// Content is either a bare number or nested <Number> nouns
	var text strings.Builder
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}

		switch t := token.(type) {
		case xml.CharData:
			text.WriteString(strings.TrimSpace(string(t)))
		case xml.StartElement:
			if t.Name.Local != "Number" {
				return nil, fmt.Errorf("unsupported noun <%s> in <Dial>", t.Name.Local)
			}
			num, err := parseNumber(decoder, &t)
			if err != nil {
				return nil, err
			}
			dial.Numbers = append(dial.Numbers, num)
		case xml.EndElement:
			if t.Name.Local == "Dial" {
				if len(dial.Numbers) == 0 && text.Len() > 0 {
					dial.Numbers = append(dial.Numbers, &Number{Number: text.String(), Method: "POST"})
				}
				return dial, nil
			}
		}
	}
}

func parseNumber(decoder *xml.Decoder, start *xml.StartElement) (*Number, error) {
	num := &Number{Method: "POST"}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "url":
			num.URL = attr.Value
		case "method":
			num.Method = strings.ToUpper(attr.Value)
		default:
			return nil, fmt.Errorf("unknown attribute '%s' on <Number>", attr.Name.Local)
		}
	}
	if err := decoder.DecodeElement(&num.Number, start); err != nil {
		return nil, err
	}
	num.Number = strings.TrimSpace(num.Number)
	return num, nil
}

func parseRedirect(decoder *xml.Decoder, start *xml.StartElement) (*Redirect, error) {
	redirect := &Redirect{Method: "POST"}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "method":
			redirect.Method = strings.ToUpper(attr.Value)
		default:
			return nil, fmt.Errorf("unknown attribute '%s' on <Redirect>", attr.Name.Local)
		}
	}
	if err := decoder.DecodeElement(&redirect.URL, start); err != nil {
		return nil, err
	}
	redirect.URL = strings.TrimSpace(redirect.URL)
	return redirect, nil
}
