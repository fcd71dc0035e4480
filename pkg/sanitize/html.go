// Package sanitize renders untrusted message HTML safe for browser display.
package sanitize

import (
	"bufio"
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var (
	cssSafe = regexp.MustCompile(".*")
	policy  = bluemonday.UGCPolicy().
		AllowElements("center").
		AllowAttrs("style").Matching(cssSafe).Globally()
)

// HTML sanitizes the provided html, while attempting to preserve inline CSS
// styling.  Scripts, event handlers and unknown style properties are removed.
func HTML(input string) (output string, err error) {
	output, err = filterStyleAttrs(input)
	if err != nil {
		return "", err
	}
	return policy.Sanitize(output), nil
}

// filterStyleAttrs rewrites style attributes to contain only allowed CSS
// properties; bluemonday treats attribute values as opaque, so the CSS pass
// happens first.
func filterStyleAttrs(input string) (string, error) {
	b := &bytes.Buffer{}
	bw := bufio.NewWriter(b)
	z := html.NewTokenizer(strings.NewReader(input))
	tag := make([]byte, 0, 256)
	for {
		tag = tag[:0]
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			err := z.Err()
			if err == io.EOF {
				if err := bw.Flush(); err != nil {
					return "", err
				}
				return b.String(), nil
			}
			return "", err
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				if _, err := bw.Write(z.Raw()); err != nil {
					return "", err
				}
				continue
			}
			tag = append(tag, '<')
			tag = append(tag, name...)
			for {
				key, val, more := z.TagAttr()
				strval := string(val)
				style := strings.EqualFold(string(key), "style")
				if style {
					strval = filterStyle(strval)
				}
				if !style || strval != "" {
					tag = append(tag, ' ')
					tag = append(tag, key...)
					tag = append(tag, '=', '"')
					tag = append(tag, []byte(html.EscapeString(strval))...)
					tag = append(tag, '"')
				}
				if !more {
					break
				}
			}
			if tt == html.SelfClosingTagToken {
				tag = append(tag, '/')
			}
			if _, err := bw.Write(append(tag, '>')); err != nil {
				return "", err
			}
		default:
			if _, err := bw.Write(z.Raw()); err != nil {
				return "", err
			}
		}
	}
}
