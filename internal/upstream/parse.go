package upstream

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Names the landing page uses for the captcha fields.
const (
	captchaInputName = "captchaIdentifier"
	captchaImageID   = "captcha-image"
)

// parseCaptchaPage walks the landing page looking for the hidden captcha
// identifier input and the captcha image. Both must be present and non-empty.
func parseCaptchaPage(r io.Reader) (identifier, imagePath string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				if identifier == "" && attr(n, "name") == captchaInputName {
					identifier = strings.TrimSpace(attr(n, "value"))
				}
			case "img":
				if imagePath == "" && attr(n, "id") == captchaImageID {
					imagePath = strings.TrimSpace(attr(n, "src"))
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if identifier == "" || imagePath == "" {
		return "", "", ErrParse
	}
	return identifier, imagePath, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
