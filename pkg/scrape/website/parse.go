package website

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Date strings on activity pages come in three shapes:
//
//	Sat, Jun 14, 2025
//	Sat, Jun 14, 2025 from 8:00 AM - 5:00 PM
//	Sat, Jun 14, 2025 – Sun, Jun 15, 2025
var (
	singleDatePat = regexp.MustCompile(`^\w{3}, (\w{3} \d{1,2}, \d{4})$`)
	dateTimePat   = regexp.MustCompile(`^\w{3}, (\w{3} \d{1,2}, \d{4}) from.*$`)
	dateRangePat  = regexp.MustCompile(`^\w{3}, (\w{3} \d{1,2}, \d{4}) . \w{3}, (\w{3} \d{1,2}, \d{4})$`)
)

const dateLayout = "Jan 2, 2006"

func parseDateRange(s string) (start, end time.Time, err error) {
	s = strings.TrimSpace(s)
	if m := singleDatePat.FindStringSubmatch(s); m != nil {
		start, err = time.Parse(dateLayout, m[1])
		return start, start, err
	}
	if m := dateTimePat.FindStringSubmatch(s); m != nil {
		start, err = time.Parse(dateLayout, m[1])
		return start, start, err
	}
	if m := dateRangePat.FindStringSubmatch(s); m != nil {
		start, err = time.Parse(dateLayout, m[1])
		if err != nil {
			return start, start, err
		}
		end, err = time.Parse(dateLayout, m[2])
		return start, end, err
	}
	return start, end, fmt.Errorf("unrecognized date string: %q", s)
}

// pageTitle pulls the <title> out of a raw response for error messages,
// without requiring the page to be otherwise well-formed.
func pageTitle(raw []byte) string {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	title, _ := findTitle(doc)
	return strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
}

func findTitle(n *html.Node) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil {
			return n.FirstChild.Data, true
		}
		return "", true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title, ok := findTitle(c); ok {
			return title, ok
		}
	}
	return "", false
}
