// Package seed imports entity seed lists (CSV, XLSX, YAML) from local files,
// HTTP, or FTP data drops and creates pending entities for extraction.
package seed

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cityhive/directory/internal/model"
	"github.com/cityhive/directory/internal/store"
)

// Record is one seed-list row before it becomes an entity.
type Record struct {
	Type    string `yaml:"type"`
	Name    string `yaml:"name"`
	PlaceID string `yaml:"place_id"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	Phone   string `yaml:"phone"`
	Website string `yaml:"website"`
}

// Result summarizes one import run.
type Result struct {
	Created    int
	Duplicates int
	Skipped    int
}

// NewEntity constructs a pending entity ready for its first extraction run.
func NewEntity(t model.EntityType, name, placeID string) *model.Entity {
	return &model.Entity{
		ID:      uuid.NewString(),
		Type:    t,
		PlaceID: placeID,
		Name:    name,
		Slug:    Slugify(name),

		ExtractionStatus: model.ExtractionPending,
		Progress:         make(model.Progress),
	}
}

// Importer creates pending entities from seed lists.
type Importer struct {
	store store.Store
}

// NewImporter creates an Importer over the given store.
func NewImporter(st store.Store) *Importer {
	return &Importer{store: st}
}

// Import fetches the source (path, http(s) or ftp URL), parses it by
// extension, and creates one pending entity per new row. defaultType applies
// to rows without their own type column.
func (im *Importer) Import(ctx context.Context, source string, defaultType model.EntityType) (*Result, error) {
	body, err := Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := parse(body, strings.ToLower(path.Ext(source)))
	if err != nil {
		return nil, err
	}
	return im.create(ctx, records, defaultType)
}

func (im *Importer) create(ctx context.Context, records []Record, defaultType model.EntityType) (*Result, error) {
	res := &Result{}
	for _, rec := range records {
		if rec.Name == "" {
			res.Skipped++
			continue
		}

		t := defaultType
		if rec.Type != "" {
			t = model.EntityType(strings.ToLower(rec.Type))
		}
		if !t.Valid() {
			zap.L().Warn("seed: skipping row with unknown type",
				zap.String("name", rec.Name),
				zap.String("type", rec.Type),
			)
			res.Skipped++
			continue
		}

		if rec.PlaceID != "" {
			_, err := im.store.GetEntityByPlaceID(ctx, rec.PlaceID)
			if err == nil {
				res.Duplicates++
				continue
			}
			if !eris.Is(err, store.ErrNotFound) {
				return res, eris.Wrap(err, "seed: duplicate check")
			}
		}

		entity := NewEntity(t, rec.Name, rec.PlaceID)
		entity.Address = rec.Address
		entity.City = rec.City
		entity.Phone = rec.Phone
		entity.Website = rec.Website
		if err := im.store.CreateEntity(ctx, entity); err != nil {
			return res, eris.Wrapf(err, "seed: create entity %s", rec.Name)
		}
		res.Created++
	}

	zap.L().Info("seed: import finished",
		zap.Int("created", res.Created),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func parse(r io.Reader, ext string) ([]Record, error) {
	switch ext {
	case ".csv":
		return parseCSV(r)
	case ".xlsx":
		return parseXLSX(r)
	case ".yaml", ".yml":
		return parseYAML(r)
	default:
		return nil, eris.Errorf("seed: unsupported seed format %q", ext)
	}
}
