package showcase

import (
	"fmt"

	"showcased/internal/errors"
	"showcased/internal/models"
	"showcased/internal/storage"
)

// RenderInput is everything the presentation layer needs to place one image
// on a page, resolved to raw bytes so export works offline.
type RenderInput struct {
	ImageBytes  []byte
	Overlay     models.OverlaySettings
	Sender      string
	MessageText string
	Avatar      []byte
}

// RenderInputs resolves the showcase's images, in their committed order,
// into self-contained render inputs. Every referenced message must still be
// in the index and every image must still be in the cache; otherwise the
// whole call fails so the caller never exports a partial set.
func (m *Manager) RenderInputs(id string) ([]RenderInput, error) {
	sc, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if len(sc.Images) == 0 {
		return nil, errors.NewInvalidRequest("showcase has no images to render")
	}

	ids := make([]string, 0, len(sc.SelectedMessages))
	authorByMsg := make(map[string]string, len(sc.SelectedMessages))
	for _, msg := range sc.SelectedMessages {
		ids = append(ids, msg.MessageID)
		authorByMsg[msg.MessageID] = msg.AuthorID
	}
	indexed, err := m.index.ByIDs(ids)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	known := make(map[string]bool, len(indexed))
	for _, row := range indexed {
		known[row.MessageID] = true
	}
	var missing []string
	for _, msgID := range ids {
		if !known[msgID] {
			missing = append(missing, msgID)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewDanglingReference(missing)
	}

	inputs := make([]RenderInput, 0, len(sc.Images))
	for _, img := range sc.Images {
		if img.ImageKey == "" {
			return nil, errors.NewDanglingReference([]string{img.MessageID})
		}
		data, err := m.cache.Get(img.ImageKey)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				return nil, errors.NewDanglingReference([]string{img.MessageID})
			}
			return nil, err
		}
		// Avatar is best effort; a missing one renders as a blank slot.
		var avatar []byte
		if authorID := authorByMsg[img.MessageID]; authorID != "" {
			avatar, _ = m.cache.Get(storage.AvatarKey(authorID))
		}
		inputs = append(inputs, RenderInput{
			ImageBytes:  data,
			Overlay:     img.Overlay,
			Sender:      img.Sender,
			MessageText: img.Message,
			Avatar:      avatar,
		})
	}
	return inputs, nil
}

// RecordArtifactPath stores where the exported presentation landed and marks
// the showcase Completed. Re-exporting just overwrites the path.
func (m *Manager) RecordArtifactPath(id string, artifactPath string) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}
	if artifactPath == "" {
		return errors.NewInvalidRequest("artifact path must not be empty")
	}
	phase := sc.Phase
	if phase < models.PhaseCompleted {
		phase = models.PhaseCompleted
	}
	err = m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(map[string]any{
		"artifact_path": artifactPath,
		"phase":         phase,
		"last_modified": m.now().Unix(),
	}).Error
	if err != nil {
		return errors.NewInternal(fmt.Errorf("record artifact path: %w", err))
	}
	return nil
}
