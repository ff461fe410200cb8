package updater

import (
	"crypto/sha1"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rewriteBodyImages points remote img references at the article's cache
// directory so a caching fetch layer can serve them offline later. The
// original URL is preserved in data-origin for that layer to resolve.
func rewriteBodyImages(body, subscriptionID, articleID string) string {
	if !strings.Contains(body, "<img") {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	rewritten := false
	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
			return
		}
		sel.SetAttr("data-origin", src)
		sel.SetAttr("src", path.Join(subscriptionID, articleID, cachedImageName(src)))
		rewritten = true
	})
	if !rewritten {
		return body
	}

	// goquery wraps fragments in a full document; unwrap the body again.
	html, err := doc.Find("body").Html()
	if err != nil {
		return body
	}
	return html
}

// cachedImageName derives a stable cache file name for a remote image URL.
func cachedImageName(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "." && base != "/" {
			return base
		}
	}
	return fmt.Sprintf("%x", sha1.Sum([]byte(rawURL)))
}
