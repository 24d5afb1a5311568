// Package resolver turns an article identifier into the ordered list of
// scanned page references reported by the Dokumentlager listing endpoint.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arkivtools/dokufetch/pkg/client"
	"github.com/arkivtools/dokufetch/pkg/logging"
)

// ErrPageMissing is returned when a page of an article has no retrievable
// image: the listing carries a resource without an image variant, or the
// binary is permanently gone. A missing page fails the whole article; a
// document with silently dropped pages would corrupt the scanned record.
var ErrPageMissing = errors.New("page image missing")

const (
	// listLimit is the page window requested from the listing endpoint.
	// Articles are bounded well below this in practice.
	listLimit = 500

	// imageMimeType selects the archival master among the file variants.
	imageMimeType = "image/tiff"
)

// PageRef references one scanned page image of an article. Index is the
// zero-based position in the scan's physical page order as reported by the
// service, which is authoritative end-to-end.
type PageRef struct {
	Index     int
	Reference string
	Profile   string
	MimeType  string
	FileName  string
}

// Resolver resolves article identifiers against the listing endpoint.
type Resolver struct {
	client *client.Client
	logger zerolog.Logger
}

// New creates a resolver backed by the given client.
func New(c *client.Client) *Resolver {
	return &Resolver{
		client: c,
		logger: logging.NewLogger("resolver"),
	}
}

// Listing entity shapes, limited to the fields the resolver consumes.
type entity struct {
	EntityType string `json:"entityType"`
	Properties struct {
		OriginalFile []fileVariant `json:"resource.originalFile"`
	} `json:"properties"`
}

type fileVariant struct {
	Value struct {
		MimeType         string `json:"mimeType"`
		Reference        string `json:"reference"`
		Profile          string `json:"profile"`
		OriginalFileName string `json:"originalFileName"`
	} `json:"value"`
}

// Resolve returns the article's page references in service-reported order.
// It fails with client.ErrNotFound for unknown identifiers and with
// ErrPageMissing when a listed page has no image variant.
func (r *Resolver) Resolve(ctx context.Context, articleID string) ([]PageRef, error) {
	endpoint := fmt.Sprintf("/api/list/%s/0/%d", articleID, listLimit)

	resp, err := r.client.Get(ctx, endpoint)
	if err != nil {
		if errors.Is(err, client.ErrNotFound) {
			return nil, fmt.Errorf("article %s: %w", articleID, err)
		}
		return nil, fmt.Errorf("list article %s: %w", articleID, err)
	}
	defer resp.Body.Close()

	var entities []entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, fmt.Errorf("decode listing of article %s: %w", articleID, err)
	}

	refs := make([]PageRef, 0, len(entities))
	for _, e := range entities {
		if e.EntityType != "Resource" {
			continue
		}

		variant, ok := imageVariant(e.Properties.OriginalFile)
		if !ok {
			// Some articles are missing image files for individual pages;
			// their resource entries carry no image/tiff variant.
			return nil, fmt.Errorf("page %d of article %s has no %s variant: %w",
				len(refs)+1, articleID, imageMimeType, ErrPageMissing)
		}

		refs = append(refs, PageRef{
			Index:     len(refs),
			Reference: variant.Value.Reference,
			Profile:   variant.Value.Profile,
			MimeType:  variant.Value.MimeType,
			FileName:  variant.Value.OriginalFileName,
		})
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("article %s: listing contains no page images: %w", articleID, ErrPageMissing)
	}

	r.logger.Debug().
		Str("article_id", articleID).
		Int("pages", len(refs)).
		Msg("resolved article")

	return refs, nil
}

func imageVariant(variants []fileVariant) (fileVariant, bool) {
	for _, v := range variants {
		if v.Value.MimeType == imageMimeType {
			return v, true
		}
	}
	return fileVariant{}, false
}
