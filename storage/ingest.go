package storage

import (
	"fmt"
	"mime/multipart"

	"carlot/models"

	"github.com/rs/zerolog/log"
)

// Appender persists a finished record. database.Store satisfies it.
type Appender interface {
	Append(car models.Car) error
}

// Submission is one add-car request after the transport has parsed it.
type Submission struct {
	Fields models.CarFields
	Files  []*multipart.FileHeader
}

// Ingestor turns submissions into persisted catalogue records.
type Ingestor struct {
	assets *Assets
	store  Appender
	ids    *Stamper
}

// NewIngestor wires the asset directory to the catalogue.
func NewIngestor(assets *Assets, store Appender) *Ingestor {
	return &Ingestor{
		assets: assets,
		store:  store,
		ids:    NewMilliStamper(),
	}
}

// Submit writes every attachment, builds the record and appends it.
//
// Files already written are left in place if a later step fails.
func (in *Ingestor) Submit(sub Submission) (models.Car, error) {
	images := make([]string, 0, len(sub.Files))
	for _, fh := range sub.Files {
		p, err := in.assets.Save(fh)
		if err != nil {
			in.logOrphans(images, err)
			return models.Car{}, fmt.Errorf("failed to save image '%s': %w", fh.Filename, err)
		}
		images = append(images, p)
	}

	car := models.NewCar(in.ids.Next(), sub.Fields, images)
	if err := in.store.Append(car); err != nil {
		in.logOrphans(images, err)
		return models.Car{}, fmt.Errorf("failed to append car %d: %w", car.ID, err)
	}

	log.Info().Int64("id", car.ID).Str("model", car.Model).Int("images", len(images)).Msg("car added")
	return car, nil
}

func (in *Ingestor) logOrphans(images []string, cause error) {
	for _, p := range images {
		local, _ := in.assets.LocalPath(p)
		log.Warn().Err(cause).Str("path", p).Str("file", local).Msg("uploaded file left without a catalogue record")
	}
}
