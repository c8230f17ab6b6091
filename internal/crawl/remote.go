package crawl

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"medialib/internal/logging"
	"medialib/internal/manifest"
)

// RemoteManifest is a library index fetched from a URL.
type RemoteManifest struct {
	URL      string
	Name     string
	Category manifest.Category
	Records  []manifest.Record
	Raw      []byte
}

// FetchManifest downloads and decodes a remote library index. Records without
// a type field take the category implied by the file name, such as
// costumeLibrary.json. Pretend mode still fetches the index itself.
func (c *Crawler) FetchManifest(ctx context.Context, rawURL string) (RemoteManifest, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return RemoteManifest{}, fmt.Errorf("manifest url %q: must be http or https", rawURL)
	}
	name := path.Base(u.Path)
	category := CategoryFromName(name)

	data, err := c.get(ctx, rawURL)
	if err != nil {
		return RemoteManifest{}, err
	}
	records, err := manifest.Decode(data, category)
	if err != nil {
		return RemoteManifest{}, fmt.Errorf("remote manifest %s: %w", rawURL, err)
	}
	c.logger.Info("remote manifest fetched",
		logging.String("url", rawURL),
		logging.String(logging.FieldCategory, string(category)),
		logging.Int("records", len(records)),
	)
	return RemoteManifest{URL: rawURL, Name: name, Category: category, Records: records, Raw: data}, nil
}

// CategoryFromName infers a category from a library file name. It returns
// the empty category when the name carries no hint.
func CategoryFromName(name string) manifest.Category {
	lower := strings.ToLower(name)
	for _, c := range manifest.Categories {
		if strings.HasPrefix(lower, string(c)) {
			return c
		}
	}
	return ""
}
