package updater

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/url"

	"github.com/nfnt/resize"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/feedhaven/feedhaven/internal/store"
	"github.com/feedhaven/feedhaven/internal/transport"
)

// iconSize is the target icon height in pixels.
const iconSize = 16

const faviconServiceURL = "https://www.google.com/s2/favicons?domain=%s"

// fetchIcon downloads and stores a subscription's icon as the last step of
// that subscription's fetch, before the queue advances. It writes through
// the dedicated icon gateway so the write never collides with the main
// chain. Failures are logged and forgotten; the next update retries.
func (u *Updater) fetchIcon(subscriptionID, iconURL, siteURL string) {
	if iconURL == "" {
		if !u.opts.UseFavicons {
			return
		}
		host := hostOf(siteURL)
		if host == "" {
			return
		}
		iconURL = fmt.Sprintf(faviconServiceURL, host)
	}

	dl := transport.NewDownload(iconURL, u.opts.UserAgent)
	dl.Start()
	<-dl.Done()
	if dl.Status() != transport.StatusReady {
		log.Printf("updater: icon download failed for %s: %v", iconURL, dl.Err())
		return
	}

	iconPath, err := u.cache.WriteIcon(subscriptionID, normalizeIcon(dl.Result()))
	if err != nil {
		log.Printf("updater: failed to store icon for %s: %v", subscriptionID, err)
		return
	}

	reply, ok := u.iconGW.UpdateSubscription(subscriptionID, store.SubscriptionUpdate{IconPath: &iconPath})
	if !ok {
		log.Printf("updater: icon gateway busy, dropping icon for %s", subscriptionID)
		return
	}
	if err := <-reply; err != nil {
		log.Printf("updater: failed to record icon for %s: %v", subscriptionID, err)
	}
}

// normalizeIcon re-encodes the icon as PNG, scaled down to iconSize when
// taller. Undecodable payloads are stored verbatim.
func normalizeIcon(data []byte) []byte {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	if img.Bounds().Dy() > iconSize {
		img = resize.Resize(0, iconSize, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return data
	}
	return buf.Bytes()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
