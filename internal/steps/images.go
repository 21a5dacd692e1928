package steps

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/cityhive/directory/internal/engine"
	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/pkg/places"
)

const (
	defaultMaxImages  = 8
	defaultImageWidth = 1600
)

// CollectImages gathers provider photo URLs for an entity's gallery.
type CollectImages struct {
	places    places.Client
	baseURL   string
	maxImages int
	maxWidth  int
}

// NewCollectImages creates the image-collection adapter. baseURL is the
// media endpoint prefix photo names resolve against.
func NewCollectImages(c places.Client, baseURL string) *CollectImages {
	return &CollectImages{
		places:    c,
		baseURL:   baseURL,
		maxImages: defaultMaxImages,
		maxWidth:  defaultImageWidth,
	}
}

// Execute implements engine.Adapter.
func (s *CollectImages) Execute(ctx context.Context, entity model.Entity) (*engine.StepResult, error) {
	if entity.PlaceID == "" {
		return nil, engine.NewInputError("no place id to collect images for")
	}

	photos, err := s.places.Photos(ctx, entity.PlaceID)
	if err != nil {
		return nil, eris.Wrap(err, "steps: collect images")
	}
	if len(photos) == 0 {
		return nil, engine.NewInputError("place has no photos")
	}

	if len(photos) > s.maxImages {
		photos = photos[:s.maxImages]
	}
	urls := make([]string, 0, len(photos))
	for _, p := range photos {
		urls = append(urls, p.MediaURL(s.baseURL, s.maxWidth))
	}

	raw, err := json.Marshal(photos)
	if err != nil {
		return nil, eris.Wrap(err, "steps: marshal photos")
	}
	return &engine.StepResult{
		Patch:  model.EntityPatch{Images: urls},
		Raw:    raw,
		Digest: fmt.Sprintf("%d-images", len(urls)),
	}, nil
}
