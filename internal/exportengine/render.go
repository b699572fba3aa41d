package exportengine

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)

	creditCardPattern = regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)
	ssnPattern        = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

func scrubStandardText(s string) string {
	s = emailPattern.ReplaceAllString(s, "[REDACTED-EMAIL]")
	s = phonePattern.ReplaceAllString(s, "[REDACTED-PHONE]")
	return s
}

func scrubAggressiveText(s string) string {
	s = ssnPattern.ReplaceAllString(s, "[REDACTED-SSN]")
	s = creditCardPattern.ReplaceAllString(s, "[REDACTED-CARD]")
	return s
}

func renderJSON(msgs []ExportedMessage) ([]byte, error) {
	return json.MarshalIndent(msgs, "", "  ")
}

func renderCSV(msgs []ExportedMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "sender_name", "subject", "body_md", "importance", "created_ts"}); err != nil {
		return nil, err
	}
	for _, m := range msgs {
		row := []string{
			fmt.Sprintf("%d", m.ID), m.SenderName, m.Subject, m.BodyMD, m.Importance, m.CreatedTS,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderMarkdown(msgs []ExportedMessage) []byte {
	var buf strings.Builder
	buf.WriteString("# Message export\n\n")
	for _, m := range msgs {
		fmt.Fprintf(&buf, "## %s\n\n", m.Subject)
		fmt.Fprintf(&buf, "- **From:** %s\n", m.SenderName)
		fmt.Fprintf(&buf, "- **Importance:** %s\n", m.Importance)
		fmt.Fprintf(&buf, "- **Sent:** %s\n\n", m.CreatedTS)
		buf.WriteString(m.BodyMD)
		buf.WriteString("\n\n---\n\n")
	}
	return []byte(buf.String())
}

// renderHTML HTML-escapes every user-supplied string (subject, sender,
// body) per spec §4.K, since export output is rendered directly into a
// dashboard page.
func renderHTML(msgs []ExportedMessage) []byte {
	var buf strings.Builder
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Message export</title></head><body>\n")
	for _, m := range msgs {
		fmt.Fprintf(&buf, "<article>\n<h2>%s</h2>\n", html.EscapeString(m.Subject))
		fmt.Fprintf(&buf, "<p><strong>From:</strong> %s</p>\n", html.EscapeString(m.SenderName))
		fmt.Fprintf(&buf, "<p><strong>Importance:</strong> %s</p>\n", html.EscapeString(m.Importance))
		fmt.Fprintf(&buf, "<p><strong>Sent:</strong> %s</p>\n", html.EscapeString(m.CreatedTS))
		fmt.Fprintf(&buf, "<pre>%s</pre>\n</article>\n", html.EscapeString(m.BodyMD))
	}
	buf.WriteString("</body></html>\n")
	return []byte(buf.String())
}
