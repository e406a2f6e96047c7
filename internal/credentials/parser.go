// Package credentials turns pasted IPTV credential text into structured fields.
package credentials

import (
	"strings"

	"github.com/iplinks/iplinks-go/internal/model"
)

type field int

const (
	fieldNone field = iota
	fieldHost
	fieldUsername
	fieldPassword
)

// Labels are matched as substrings of the lower-cased line, in this order.
var labels = []struct {
	field  field
	labels []string
}{
	{fieldHost, []string{"servidor:", "host:", "server:", "url:"}},
	{fieldUsername, []string{"usuário:", "usuario:", "username:", "user:"}},
	{fieldPassword, []string{"senha:", "password:", "pass:"}},
}

// Parse extracts host, username and password from free-form text. Labelled
// lines win; with no labels at all and at least three lines, the first three
// lines are read as host, username and password. Parse never fails: fields
// it cannot find are left empty.
func Parse(text string) model.Credentials {
	creds := model.Credentials{Raw: text}
	lines := splitLines(text)

	for _, line := range lines {
		value := valueAfterColon(line)
		switch classify(line) {
		case fieldHost:
			creds.Host = value
		case fieldUsername:
			creds.Username = value
		case fieldPassword:
			creds.Password = value
		}
	}

	if creds.Host == "" && creds.Username == "" && creds.Password == "" && len(lines) >= 3 {
		creds.Host = lines[0]
		creds.Username = lines[1]
		creds.Password = lines[2]
	}

	return creds
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func classify(line string) field {
	lower := strings.ToLower(line)
	for _, group := range labels {
		for _, label := range group.labels {
			if strings.Contains(lower, label) {
				return group.field
			}
		}
	}
	return fieldNone
}

func valueAfterColon(line string) string {
	_, value, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(value)
}
