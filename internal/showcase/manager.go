package showcase

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"showcased/internal/errors"
	"showcased/internal/index"
	"showcased/internal/models"
	"showcased/internal/storage"
)

// Manager owns the Showcase entity and its phase transitions. It is the only
// writer of showcase rows and of the render/ cache namespace.
type Manager struct {
	db           *gorm.DB
	cache        *storage.Cache
	index        *index.Index
	artifactsDir string
	validate     *validator.Validate
	now          func() time.Time
}

func NewManager(db *gorm.DB, cache *storage.Cache, idx *index.Index, artifactsDir string) *Manager {
	return &Manager{
		db:           db,
		cache:        cache,
		index:        idx,
		artifactsDir: artifactsDir,
		validate:     validator.New(),
		now:          time.Now,
	}
}

// Create starts a new showcase in the Selecting phase.
func (m *Manager) Create(title, description string) (string, error) {
	if title == "" {
		return "", errors.NewInvalidRequest("title must not be empty")
	}
	now := m.now().Unix()
	sc := models.Showcase{
		ID:           uuid.NewString(),
		Title:        title,
		Description:  description,
		Status:       "Draft",
		Phase:        models.PhaseSelecting,
		CreatedAt:    now,
		LastModified: now,
	}
	if err := m.db.Create(&sc).Error; err != nil {
		return "", errors.NewInternal(fmt.Errorf("create showcase: %w", err))
	}
	return sc.ID, nil
}

// Get returns one showcase by id.
func (m *Manager) Get(id string) (models.Showcase, error) {
	var sc models.Showcase
	err := m.db.First(&sc, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return models.Showcase{}, errors.NewNotFound("showcase", id)
	}
	if err != nil {
		return models.Showcase{}, errors.NewInternal(fmt.Errorf("fetch showcase: %w", err))
	}
	return sc, nil
}

// List returns all showcases, most recently modified first.
func (m *Manager) List() ([]models.Showcase, error) {
	var scs []models.Showcase
	if err := m.db.Order("last_modified DESC").Find(&scs).Error; err != nil {
		return nil, errors.NewInternal(fmt.Errorf("list showcases: %w", err))
	}
	return scs, nil
}

// Update changes title, description or status label. Nil fields are left
// untouched.
func (m *Manager) Update(id string, title, description, status *string) error {
	if _, err := m.Get(id); err != nil {
		return err
	}
	updates := map[string]any{}
	if title != nil {
		updates["title"] = *title
	}
	if description != nil {
		updates["description"] = *description
	}
	if status != nil {
		updates["status"] = *status
	}
	if len(updates) == 0 {
		return nil
	}
	updates["last_modified"] = m.now().Unix()
	if err := m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return errors.NewInternal(fmt.Errorf("update showcase: %w", err))
	}
	return nil
}

// CommitSelection stores the frozen message snapshot and advances the phase
// from Selecting to Editing. Re-committing at a later phase is allowed (the
// user may go back) and simply replaces the snapshot; the phase never
// decreases. No partial state change on any validation failure.
func (m *Manager) CommitSelection(id string, msgs []models.SelectedMessage) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return errors.NewInvalidRequest("selection must not be empty")
	}

	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.MessageID == "" {
			return errors.NewInvalidRequest("selected message is missing its message id")
		}
		if msg.AttachmentFile == "" {
			return errors.NewAmbiguousAttachment(msg.MessageID)
		}
		ids = append(ids, msg.MessageID)
	}

	indexed, err := m.index.ByIDs(ids)
	if err != nil {
		return errors.NewInternal(err)
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
		return errors.NewDanglingReference(missing)
	}

	phase := sc.Phase
	if phase < models.PhaseEditing {
		phase = models.PhaseEditing
	}
	err = m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(map[string]any{
		"selected_messages": models.SelectedMessageList(msgs),
		"phase":             phase,
		"last_modified":     m.now().Unix(),
	}).Error
	if err != nil {
		return errors.NewInternal(fmt.Errorf("save selection: %w", err))
	}

	return m.index.MarkUsed(ids)
}

// SaveImageEdit writes the rendered composite into the render namespace and
// upserts the image metadata by message id. The phase is not touched.
func (m *Manager) SaveImageEdit(id string, img models.ShowcaseImage, rendered []byte) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}
	if len(rendered) == 0 {
		return errors.NewInvalidRequest("rendered image bytes must not be empty")
	}
	inSelection := false
	for _, msg := range sc.SelectedMessages {
		if msg.MessageID == img.MessageID {
			inSelection = true
			break
		}
	}
	if !inSelection {
		return errors.NewInvalidRequest(fmt.Sprintf("message %s is not part of the showcase selection", img.MessageID))
	}
	if err := m.validate.Struct(&img); err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid image metadata: %v", err))
	}
	img.Overlay.Clamp()

	key := storage.RenderKey(id, img.MessageID, imageExt(rendered))
	if err := m.cache.Put(key, rendered); err != nil {
		return err
	}
	img.ImageKey = key

	images := sc.Images
	replaced := false
	for i := range images {
		if images[i].MessageID == img.MessageID {
			images[i] = img
			replaced = true
			break
		}
	}
	if !replaced {
		images = append(images, img)
	}

	err = m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(map[string]any{
		"images":        images,
		"last_modified": m.now().Unix(),
	}).Error
	if err != nil {
		return errors.NewInternal(fmt.Errorf("save image edit: %w", err))
	}
	return nil
}

// AdvanceToSorting moves the showcase into the Sorting phase once every
// selected message has an edited image.
func (m *Manager) AdvanceToSorting(id string) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}
	edited := make(map[string]bool, len(sc.Images))
	for _, img := range sc.Images {
		if img.IsEdited {
			edited[img.MessageID] = true
		}
	}
	var missing []string
	for _, msg := range sc.SelectedMessages {
		if !edited[msg.MessageID] {
			missing = append(missing, msg.MessageID)
		}
	}
	if len(missing) > 0 {
		return errors.NewIncompleteEditing(missing)
	}

	if sc.Phase >= models.PhaseSorting {
		return nil
	}
	err = m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(map[string]any{
		"phase":         models.PhaseSorting,
		"last_modified": m.now().Unix(),
	}).Error
	if err != nil {
		return errors.NewInternal(fmt.Errorf("advance showcase: %w", err))
	}
	return nil
}

// CommitSortOrder replaces the image collection with a reordering of itself.
// Adding or removing images through sorting is rejected and leaves the
// showcase untouched. Completion is a separate explicit step.
func (m *Manager) CommitSortOrder(id string, ordered []models.ShowcaseImage) error {
	sc, err := m.Get(id)
	if err != nil {
		return err
	}

	existing := make(map[string]models.ShowcaseImage, len(sc.Images))
	for _, img := range sc.Images {
		existing[img.MessageID] = img
	}
	if len(ordered) != len(existing) {
		return errors.NewImageSetMismatch(
			fmt.Sprintf("sort order has %d image(s), showcase has %d", len(ordered), len(existing)))
	}
	seen := make(map[string]bool, len(ordered))
	merged := make(models.ShowcaseImageList, 0, len(ordered))
	for _, img := range ordered {
		if seen[img.MessageID] {
			return errors.NewImageSetMismatch(fmt.Sprintf("duplicate message id in sort order: %s", img.MessageID))
		}
		seen[img.MessageID] = true
		prev, ok := existing[img.MessageID]
		if !ok {
			return errors.NewImageSetMismatch(fmt.Sprintf("message id not in showcase: %s", img.MessageID))
		}
		// Sorting reorders; it does not re-edit. Keep the stored entry,
		// only its position changes.
		merged = append(merged, prev)
	}

	err = m.db.Model(&models.Showcase{}).Where("id = ?", id).Updates(map[string]any{
		"images":        merged,
		"last_modified": m.now().Unix(),
	}).Error
	if err != nil {
		return errors.NewInternal(fmt.Errorf("save sort order: %w", err))
	}
	return nil
}

// Delete removes the showcase, its rendered images and its exported
// artifact. Deleting a missing id is a no-op success so UI retries stay
// safe.
func (m *Manager) Delete(id string) error {
	if err := m.cache.ClearNamespace(storage.RenderNamespace(id)); err != nil {
		return err
	}
	if m.artifactsDir != "" {
		if err := os.RemoveAll(filepath.Join(m.artifactsDir, id)); err != nil {
			return errors.NewInternal(fmt.Errorf("remove artifacts: %w", err))
		}
	}
	if err := m.db.Delete(&models.Showcase{}, "id = ?", id).Error; err != nil {
		return errors.NewInternal(fmt.Errorf("delete showcase: %w", err))
	}
	return nil
}

// imageExt sniffs the stored extension from the rendered bytes.
func imageExt(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}
