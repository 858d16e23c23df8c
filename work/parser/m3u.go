package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grafana/regexp"
)

// attrRegex matches key="value" pairs inside an #EXTINF line. Values may
// contain spaces and commas.
var attrRegex = regexp.MustCompile(`([A-Za-z0-9_-]+)="([^"]*)"`)

// M3UItem is one #EXTINF + URL pair from an M3U playlist
type M3UItem struct {
	Name       string
	URL        string
	Attributes map[string]string
}

// ParseEXTINF extracts the duration, the quoted attributes and the trailing
// channel name from an #EXTINF line. The name is stored under "tvg-name" when
// the line does not already carry one.
func ParseEXTINF(line string) map[string]string {
	attrs := make(map[string]string)

	line = strings.TrimPrefix(strings.TrimSpace(line), "#EXTINF:")

	// the last comma outside quotes separates attributes from the name
	lastComma := -1
	inQuotes := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				lastComma = i
			}
		}
	}
	if lastComma == -1 {
		return attrs
	}

	attrPart := strings.TrimSpace(line[:lastComma])
	channelName := strings.TrimSpace(line[lastComma+1:])

	if fields := strings.Fields(attrPart); len(fields) > 0 && !strings.Contains(fields[0], "=") {
		attrs["duration"] = fields[0]
	}
	for _, m := range attrRegex.FindAllStringSubmatch(attrPart, -1) {
		attrs[strings.ToLower(m[1])] = m[2]
	}

	if channelName != "" {
		attrs["display-name"] = channelName
		if attrs["tvg-name"] == "" {
			attrs["tvg-name"] = channelName
		}
	}
	return attrs
}

// ParseM3U reads an extended M3U playlist. Lines between #EXTINF and the URL
// (e.g. #EXTVLCOPT) are skipped; a URL line without a preceding #EXTINF is ignored.
func ParseM3U(r io.Reader) ([]M3UItem, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var items []M3UItem
	var current map[string]string
	sawHeader := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTM3U"):
			sawHeader = true
		case strings.HasPrefix(line, "#EXTINF:"):
			current = ParseEXTINF(line)
		case strings.HasPrefix(line, "#"):
			continue
		case current != nil:
			name := current["display-name"]
			if name == "" {
				name = current["tvg-name"]
			}
			items = append(items, M3UItem{Name: name, URL: line, Attributes: current})
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}
	if !sawHeader && len(items) == 0 {
		return nil, fmt.Errorf("not an M3U playlist")
	}
	return items, nil
}
