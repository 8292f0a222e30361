package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// GlobalName is the page global an exported replay assigns its data list
// to.
const GlobalName = "__ReplayStrData__"

const scriptPrefix = "window." + GlobalName + " = \""

// ScriptText returns the inline script assigning an encoded data list. The
// encoding leaves no quote, backslash or angle bracket in s, so it can sit
// in a JS string literal inside a script element unescaped.
func ScriptText(s string) string {
	return scriptPrefix + s + "\""
}

// ExtractInline finds the encoded data list in an exported page. It returns
// ("", nil) when the page has none.
func ExtractInline(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return "", nil
			}
			return "", fmt.Errorf("codec: extract inline: %w", z.Err())
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = atom.Lookup(name) == atom.Script
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if !strings.HasPrefix(text, scriptPrefix) {
				continue
			}
			rest := text[len(scriptPrefix):]
			end := strings.IndexByte(rest, '"')
			if end < 0 {
				return "", ErrMalformed
			}
			return rest[:end], nil
		}
	}
}
