package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gallery/server/internal/models"
)

// memoryStore keeps the whole gallery in maps. Transactions work on a
// copy-on-write overlay that is validated and applied under the store mutex
// at commit, so a failed or cancelled transaction leaves no trace.
type memoryStore struct {
	mu         sync.RWMutex
	photos     map[string]*models.Photo
	categories map[string]*models.Category
	members    map[string]*memCategory

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// memCategory is the membership set of one category. version increases on
// every committed change and detects writers that skipped the category lock.
type memCategory struct {
	version uint64
	rows    map[string]*models.Membership
}

func (c *memCategory) clone() *memCategory {
	out := &memCategory{rows: make(map[string]*models.Membership)}
	if c == nil {
		return out
	}
	out.version = c.version
	for id, m := range c.rows {
		cp := *m
		out.rows[id] = &cp
	}
	return out
}

// NewInMemoryStore returns a Store backed by process memory
func NewInMemoryStore() *Store {
	s := &memoryStore{
		photos:     make(map[string]*models.Photo),
		categories: make(map[string]*models.Category),
		members:    make(map[string]*memCategory),
		locks:      make(map[string]chan struct{}),
	}
	return &Store{
		Repositories: s.bind(nil),
		Sessions:     newMemorySessionRepo(),
		Tx:           s,
		Backend:      "memory",
	}
}

func (s *memoryStore) bind(tx *memTx) Repositories {
	return Repositories{
		Photos:      &memPhotoRepo{s: s, tx: tx},
		Categories:  &memCategoryRepo{s: s, tx: tx},
		Memberships: &memMembershipRepo{s: s, tx: tx},
	}
}

// Do implements TxManager
func (s *memoryStore) Do(ctx context.Context, lockKey string, fn func(repos Repositories) error) error {
	if lockKey != "" {
		unlock, err := s.lock(ctx, lockKey)
		if err != nil {
			return err
		}
		defer unlock()
	}

	tx := s.begin()
	if err := fn(s.bind(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memoryStore) lock(ctx context.Context, key string) (func(), error) {
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	s.locksMu.Unlock()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run executes fn in tx, or in a single-statement transaction when tx is nil
func (s *memoryStore) run(ctx context.Context, tx *memTx, fn func(tx *memTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx != nil {
		return fn(tx)
	}
	tx = s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

type memTx struct {
	s          *memoryStore
	members    map[string]*memCategory
	dirty      map[string]bool
	photos     map[string]*models.Photo    // nil value marks a delete
	categories map[string]*models.Category // nil value marks a delete
}

func (s *memoryStore) begin() *memTx {
	return &memTx{
		s:          s,
		members:    make(map[string]*memCategory),
		dirty:      make(map[string]bool),
		photos:     make(map[string]*models.Photo),
		categories: make(map[string]*models.Category),
	}
}

func (tx *memTx) photo(id string) *models.Photo {
	if p, ok := tx.photos[id]; ok {
		return p
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.photos[id]
}

func (tx *memTx) category(id string) *models.Category {
	if c, ok := tx.categories[id]; ok {
		return c
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.categories[id]
}

// rows returns the transaction's copy of a category's memberships
func (tx *memTx) rows(categoryID string) *memCategory {
	if c, ok := tx.members[categoryID]; ok {
		return c
	}
	tx.s.mu.RLock()
	c := tx.s.members[categoryID].clone()
	tx.s.mu.RUnlock()
	tx.members[categoryID] = c
	return c
}

func (tx *memTx) write(categoryID string) *memCategory {
	c := tx.rows(categoryID)
	tx.dirty[categoryID] = true
	return c
}

// categoryIDs lists every category that has or had memberships, as seen by tx
func (tx *memTx) categoryIDs() []string {
	seen := make(map[string]bool)
	tx.s.mu.RLock()
	for id := range tx.s.members {
		seen[id] = true
	}
	tx.s.mu.RUnlock()
	for id := range tx.members {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (tx *memTx) photoReferenced(photoID string) bool {
	for _, id := range tx.categoryIDs() {
		if _, ok := tx.rows(id).rows[photoID]; ok {
			return true
		}
	}
	return false
}

func (s *memoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	photoExists := func(id string) bool {
		if p, ok := tx.photos[id]; ok {
			return p != nil
		}
		return s.photos[id] != nil
	}
	categoryExists := func(id string) bool {
		if c, ok := tx.categories[id]; ok {
			return c != nil
		}
		return s.categories[id] != nil
	}
	effective := func(categoryID string) map[string]*models.Membership {
		if tx.dirty[categoryID] {
			return tx.members[categoryID].rows
		}
		if c := s.members[categoryID]; c != nil {
			return c.rows
		}
		return nil
	}

	for id := range tx.dirty {
		var version uint64
		if base := s.members[id]; base != nil {
			version = base.version
		}
		if version != tx.members[id].version {
			return fmt.Errorf("%w: category %s changed concurrently", models.ErrConflict, id)
		}
		rows := tx.members[id].rows
		if len(rows) > 0 && !categoryExists(id) {
			return fmt.Errorf("%w: category was deleted", models.ErrConflict)
		}
		for photoID := range rows {
			if !photoExists(photoID) {
				return fmt.Errorf("%w: photo was deleted", models.ErrConflict)
			}
		}
	}

	for id, p := range tx.photos {
		if p != nil {
			continue
		}
		for categoryID := range s.members {
			if _, ok := effective(categoryID)[id]; ok {
				return models.ErrPhotoInUse
			}
		}
		for categoryID := range tx.dirty {
			if _, ok := effective(categoryID)[id]; ok {
				return models.ErrPhotoInUse
			}
		}
	}
	for id, c := range tx.categories {
		if c == nil && len(effective(id)) > 0 {
			return fmt.Errorf("%w: category still has memberships", models.ErrConflict)
		}
	}

	for id, p := range tx.photos {
		if p == nil {
			delete(s.photos, id)
		} else {
			s.photos[id] = p
		}
	}
	for id, c := range tx.categories {
		if c == nil {
			delete(s.categories, id)
		} else {
			s.categories[id] = c
		}
	}
	for id := range tx.dirty {
		next := tx.members[id]
		next.version++
		s.members[id] = next
	}
	return nil
}

func copyPhoto(p *models.Photo) *models.Photo {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

func copyCategory(c *models.Category) *models.Category {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

type memPhotoRepo struct {
	s  *memoryStore
	tx *memTx
}

func (r *memPhotoRepo) GetByID(ctx context.Context, id string) (photo *models.Photo, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		photo = copyPhoto(tx.photo(id))
		return nil
	})
	return photo, err
}

func (r *memPhotoRepo) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Photo, error) {
	result := make(map[string]*models.Photo, len(ids))
	err := r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, id := range ids {
			if p := tx.photo(id); p != nil {
				result[id] = copyPhoto(p)
			}
		}
		return nil
	})
	return result, err
}

func (r *memPhotoRepo) all(tx *memTx) []*models.Photo {
	merged := make(map[string]*models.Photo)
	tx.s.mu.RLock()
	for id, p := range tx.s.photos {
		merged[id] = p
	}
	tx.s.mu.RUnlock()
	for id, p := range tx.photos {
		if p == nil {
			delete(merged, id)
		} else {
			merged[id] = p
		}
	}

	photos := make([]*models.Photo, 0, len(merged))
	for _, p := range merged {
		photos = append(photos, copyPhoto(p))
	}
	sort.Slice(photos, func(i, j int) bool {
		if !photos[i].DateTaken.Equal(photos[j].DateTaken) {
			return photos[i].DateTaken.After(photos[j].DateTaken)
		}
		return photos[i].ID < photos[j].ID
	})
	return photos
}

func (r *memPhotoRepo) GetAll(ctx context.Context, skip, take int) ([]*models.Photo, error) {
	var page []*models.Photo
	err := r.s.run(ctx, r.tx, func(tx *memTx) error {
		photos := r.all(tx)
		if skip >= len(photos) {
			page = []*models.Photo{}
			return nil
		}
		end := skip + take
		if end > len(photos) {
			end = len(photos)
		}
		page = photos[skip:end]
		return nil
	})
	return page, err
}

func (r *memPhotoRepo) GetCount(ctx context.Context) (count int, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		count = len(r.all(tx))
		return nil
	})
	return count, err
}

func (r *memPhotoRepo) Add(ctx context.Context, photo *models.Photo) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		if tx.photo(photo.ID) != nil {
			return fmt.Errorf("add photo: %w: %s", errUniqueViolation, photo.ID)
		}
		tx.photos[photo.ID] = copyPhoto(photo)
		return nil
	})
}

func (r *memPhotoRepo) Update(ctx context.Context, photo *models.Photo) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		existing := tx.photo(photo.ID)
		if existing == nil {
			return models.ErrPhotoNotFound
		}
		updated := copyPhoto(photo)
		updated.CreatedAt = existing.CreatedAt
		tx.photos[photo.ID] = updated
		return nil
	})
}

func (r *memPhotoRepo) Delete(ctx context.Context, id string) (deleted bool, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		if tx.photo(id) == nil {
			return nil
		}
		if tx.photoReferenced(id) {
			return models.ErrPhotoInUse
		}
		tx.photos[id] = nil
		deleted = true
		return nil
	})
	return deleted, err
}

type memCategoryRepo struct {
	s  *memoryStore
	tx *memTx
}

func (r *memCategoryRepo) withCount(tx *memTx, c *models.Category) *models.Category {
	out := copyCategory(c)
	out.PhotoCount = len(tx.rows(c.ID).rows)
	return out
}

func (r *memCategoryRepo) GetByID(ctx context.Context, id string) (category *models.Category, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		if c := tx.category(id); c != nil {
			category = r.withCount(tx, c)
		}
		return nil
	})
	return category, err
}

func (r *memCategoryRepo) GetAll(ctx context.Context) ([]*models.Category, error) {
	var categories []*models.Category
	err := r.s.run(ctx, r.tx, func(tx *memTx) error {
		merged := make(map[string]*models.Category)
		tx.s.mu.RLock()
		for id, c := range tx.s.categories {
			merged[id] = c
		}
		tx.s.mu.RUnlock()
		for id, c := range tx.categories {
			if c == nil {
				delete(merged, id)
			} else {
				merged[id] = c
			}
		}

		categories = make([]*models.Category, 0, len(merged))
		for _, c := range merged {
			categories = append(categories, r.withCount(tx, c))
		}
		sort.Slice(categories, func(i, j int) bool {
			if categories[i].Name != categories[j].Name {
				return categories[i].Name < categories[j].Name
			}
			return categories[i].ID < categories[j].ID
		})
		return nil
	})
	return categories, err
}

func (r *memCategoryRepo) Add(ctx context.Context, category *models.Category) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		if tx.category(category.ID) != nil {
			return fmt.Errorf("add category: %w: %s", errUniqueViolation, category.ID)
		}
		tx.categories[category.ID] = copyCategory(category)
		return nil
	})
}

func (r *memCategoryRepo) Update(ctx context.Context, category *models.Category) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		existing := tx.category(category.ID)
		if existing == nil {
			return models.ErrCategoryNotFound
		}
		updated := copyCategory(category)
		updated.CreatedAt = existing.CreatedAt
		updated.PhotoCount = 0
		tx.categories[category.ID] = updated
		return nil
	})
}

func (r *memCategoryRepo) Delete(ctx context.Context, id string) (deleted bool, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		if tx.category(id) == nil {
			return nil
		}
		if len(tx.rows(id).rows) > 0 {
			return fmt.Errorf("%w: category still has memberships", models.ErrConflict)
		}
		tx.categories[id] = nil
		deleted = true
		return nil
	})
	return deleted, err
}

type memMembershipRepo struct {
	s  *memoryStore
	tx *memTx
}

func (r *memMembershipRepo) MaxPosition(ctx context.Context, categoryID string) (maxPos int, found bool, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, m := range tx.rows(categoryID).rows {
			if !found || m.DisplayOrder > maxPos {
				maxPos = m.DisplayOrder
				found = true
			}
		}
		return nil
	})
	return maxPos, found, err
}

func (r *memMembershipRepo) PositionExists(ctx context.Context, categoryID string, position int) (exists bool, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, m := range tx.rows(categoryID).rows {
			if m.DisplayOrder == position {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (r *memMembershipRepo) PositionOf(ctx context.Context, categoryID, photoID string) (position int, found bool, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		if m, ok := tx.rows(categoryID).rows[photoID]; ok {
			position, found = m.DisplayOrder, true
		}
		return nil
	})
	return position, found, err
}

func (r *memMembershipRepo) Count(ctx context.Context, categoryID string) (count int, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		count = len(tx.rows(categoryID).rows)
		return nil
	})
	return count, err
}

func (r *memMembershipRepo) ShiftUp(ctx context.Context, categoryID string, from int) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, m := range tx.write(categoryID).rows {
			if m.DisplayOrder >= from {
				m.DisplayOrder++
			}
		}
		return nil
	})
}

func (r *memMembershipRepo) ShiftDown(ctx context.Context, categoryID string, from int) error {
	if from < 2 {
		return fmt.Errorf("shift down from %d would leave position 0", from)
	}
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, m := range tx.write(categoryID).rows {
			if m.DisplayOrder >= from {
				m.DisplayOrder--
			}
		}
		return nil
	})
}

func (r *memMembershipRepo) Insert(ctx context.Context, m *models.Membership) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		if tx.category(m.CategoryID) == nil || tx.photo(m.PhotoID) == nil {
			return fmt.Errorf("%w: photo or category was deleted", models.ErrConflict)
		}
		c := tx.write(m.CategoryID)
		if _, ok := c.rows[m.PhotoID]; ok {
			return models.ErrDuplicateMembership
		}
		for _, other := range c.rows {
			if other.DisplayOrder == m.DisplayOrder {
				return fmt.Errorf("%w: display order %d already taken", models.ErrConflict, m.DisplayOrder)
			}
		}
		cp := *m
		c.rows[m.PhotoID] = &cp
		return nil
	})
}

func (r *memMembershipRepo) Delete(ctx context.Context, categoryID, photoID string) (position int, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		c := tx.rows(categoryID)
		m, ok := c.rows[photoID]
		if !ok {
			return models.ErrMembershipNotFound
		}
		tx.write(categoryID)
		position = m.DisplayOrder
		delete(c.rows, photoID)
		return nil
	})
	return position, err
}

func (r *memMembershipRepo) SetPosition(ctx context.Context, categoryID, photoID string, position int) error {
	return r.s.run(ctx, r.tx, func(tx *memTx) error {
		c := tx.rows(categoryID)
		m, ok := c.rows[photoID]
		if !ok {
			return models.ErrMembershipNotFound
		}
		for id, other := range c.rows {
			if id != photoID && other.DisplayOrder == position {
				return fmt.Errorf("%w: display order %d already taken", models.ErrConflict, position)
			}
		}
		tx.write(categoryID)
		m.DisplayOrder = position
		return nil
	})
}

func (r *memMembershipRepo) ListOrdered(ctx context.Context, categoryID string) ([]*models.Membership, error) {
	var memberships []*models.Membership
	err := r.s.run(ctx, r.tx, func(tx *memTx) error {
		rows := tx.rows(categoryID).rows
		memberships = make([]*models.Membership, 0, len(rows))
		for _, m := range rows {
			cp := *m
			memberships = append(memberships, &cp)
		}
		sort.Slice(memberships, func(i, j int) bool {
			return memberships[i].DisplayOrder < memberships[j].DisplayOrder
		})
		return nil
	})
	return memberships, err
}

func (r *memMembershipRepo) CategoriesForPhoto(ctx context.Context, photoID string) ([]string, error) {
	categoryIDs := []string{}
	err := r.s.run(ctx, r.tx, func(tx *memTx) error {
		for _, id := range tx.categoryIDs() {
			if _, ok := tx.rows(id).rows[photoID]; ok {
				categoryIDs = append(categoryIDs, id)
			}
		}
		return nil
	})
	return categoryIDs, err
}

func (r *memMembershipRepo) DeleteAllInCategory(ctx context.Context, categoryID string) (count int, err error) {
	err = r.s.run(ctx, r.tx, func(tx *memTx) error {
		c := tx.write(categoryID)
		count = len(c.rows)
		c.rows = make(map[string]*models.Membership)
		return nil
	})
	return count, err
}

type memorySessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *memorySessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memorySessionRepo) Add(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memorySessionRepo) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *memorySessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memorySessionRepo) CleanupExpired(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	for id, s := range r.sessions {
		if s.IsExpired() {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}
