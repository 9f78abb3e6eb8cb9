// Package testhelpers provides in-memory stand-ins for the repository,
// job-runner and blob-store contracts, used by handler and resource tests.
package testhelpers

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vardalab/varda-engine/pkg/apperrors"
	"github.com/vardalab/varda-engine/pkg/models"
	"github.com/vardalab/varda-engine/pkg/repositories"
)

// window applies a list query's pagination to an id-sorted slice.
func window[T any](items []T, q repositories.ListQuery) (int64, []T) {
	total := int64(len(items))
	begin := min(q.Offset, total)
	end := total
	if q.Limit > 0 && begin+q.Limit < end {
		end = begin + q.Limit
	}
	return total, items[begin:end]
}

func matches(value any, want any) bool {
	return fmt.Sprint(value) == fmt.Sprint(want)
}

// Users is an in-memory repositories.UserRepository.
type Users struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]models.User
}

// NewUsers creates an empty in-memory user repository.
func NewUsers() *Users {
	return &Users{byID: make(map[int64]models.User)}
}

func (r *Users) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Login == user.Login {
			return fmt.Errorf("%w: users_login_key", apperrors.ErrConflict)
		}
	}
	r.seq++
	user.ID = r.seq
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	r.byID[user.ID] = *user
	return nil
}

func (r *Users) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &user, nil
}

func (r *Users) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.byID {
		if user.Login == login {
			u := user
			return &u, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *Users) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.User
	for id := range r.byID {
		user := r.byID[id]
		all = append(all, &user)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *Users) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[user.ID]; !ok {
		return apperrors.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	r.byID[user.ID] = *user
	return nil
}

func (r *Users) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Samples is an in-memory repositories.SampleRepository.
type Samples struct {
	mu   sync.Mutex
	seq  int64
	byID map[int64]models.Sample
}

// NewSamples creates an empty in-memory sample repository.
func NewSamples() *Samples {
	return &Samples{byID: make(map[int64]models.Sample)}
}

func (r *Samples) Create(ctx context.Context, sample *models.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	sample.ID = r.seq
	sample.CreatedAt = time.Now()
	sample.UpdatedAt = sample.CreatedAt
	r.byID[sample.ID] = *sample
	return nil
}

func (r *Samples) GetByID(ctx context.Context, id int64) (*models.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sample, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &sample, nil
}

func (r *Samples) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Sample
	for id := range r.byID {
		sample := r.byID[id]
		if want, ok := q.Filters["user"]; ok && !matches(sample.UserID, want) {
			continue
		}
		if want, ok := q.Filters["public"]; ok && !matches(sample.Public, want) {
			continue
		}
		all = append(all, &sample)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *Samples) Update(ctx context.Context, sample *models.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[sample.ID]; !ok {
		return apperrors.ErrNotFound
	}
	sample.UpdatedAt = time.Now()
	r.byID[sample.ID] = *sample
	return nil
}

func (r *Samples) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// DataSources is an in-memory repositories.DataSourceRepository. Active
// reports whether ImportedInActiveSample answers true.
type DataSources struct {
	mu     sync.Mutex
	seq    int64
	byID   map[int64]models.DataSource
	Active map[int64]bool
}

// NewDataSources creates an empty in-memory data source repository.
func NewDataSources() *DataSources {
	return &DataSources{
		byID:   make(map[int64]models.DataSource),
		Active: make(map[int64]bool),
	}
}

func (r *DataSources) Create(ctx context.Context, ds *models.DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ds.ID = r.seq
	ds.CreatedAt = time.Now()
	ds.UpdatedAt = ds.CreatedAt
	r.byID[ds.ID] = *ds
	return nil
}

func (r *DataSources) GetByID(ctx context.Context, id int64) (*models.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &ds, nil
}

func (r *DataSources) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.DataSource
	for id := range r.byID {
		ds := r.byID[id]
		if want, ok := q.Filters["user"]; ok && !matches(ds.UserID, want) {
			continue
		}
		if want, ok := q.Filters["filetype"]; ok && !matches(ds.Filetype, want) {
			continue
		}
		all = append(all, &ds)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *DataSources) Update(ctx context.Context, ds *models.DataSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[ds.ID]; !ok {
		return apperrors.ErrNotFound
	}
	ds.UpdatedAt = time.Now()
	r.byID[ds.ID] = *ds
	return nil
}

func (r *DataSources) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *DataSources) ImportedInActiveSample(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Active[id], nil
}

// Variations is an in-memory repositories.VariationRepository. It resolves
// the sample.user filter through the samples fake.
type Variations struct {
	mu      sync.Mutex
	seq     int64
	byID    map[int64]models.Variation
	samples *Samples
}

// NewVariations creates an empty in-memory variation repository.
func NewVariations(samples *Samples) *Variations {
	return &Variations{byID: make(map[int64]models.Variation), samples: samples}
}

func (r *Variations) CreateWithTask(ctx context.Context, v *models.Variation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	r.mu.Lock()
	r.seq++
	v.ID = r.seq
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	r.mu.Unlock()

	handle, err := submit(ctx, v.ID)
	if err != nil {
		return err
	}
	v.SetTask(handle)

	r.mu.Lock()
	r.byID[v.ID] = *v
	r.mu.Unlock()
	return nil
}

func (r *Variations) GetByID(ctx context.Context, id int64) (*models.Variation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &v, nil
}

func (r *Variations) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.Variation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Variation
	for id := range r.byID {
		v := r.byID[id]
		if want, ok := q.Filters["sample"]; ok && !matches(v.SampleID, want) {
			continue
		}
		if want, ok := q.Filters["data_source"]; ok && !matches(v.DataSourceID, want) {
			continue
		}
		if want, ok := q.Filters["sample.user"]; ok {
			sample, err := r.samples.GetByID(ctx, v.SampleID)
			if err != nil || !matches(sample.UserID, want) {
				continue
			}
		}
		all = append(all, &v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *Variations) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok || v.TaskUUID != expected {
		return fmt.Errorf("%w: task handle changed since read", apperrors.ErrConflict)
	}
	v.TaskUUID = next
	v.TaskDone = false
	r.byID[id] = v
	return nil
}

func (r *Variations) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if ok && v.TaskUUID == handle {
		v.TaskDone = true
		r.byID[id] = v
	}
	return nil
}

func (r *Variations) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Coverages is an in-memory repositories.CoverageRepository.
type Coverages struct {
	mu      sync.Mutex
	seq     int64
	byID    map[int64]models.Coverage
	samples *Samples
}

// NewCoverages creates an empty in-memory coverage repository.
func NewCoverages(samples *Samples) *Coverages {
	return &Coverages{byID: make(map[int64]models.Coverage), samples: samples}
}

func (r *Coverages) CreateWithTask(ctx context.Context, c *models.Coverage, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	r.mu.Lock()
	r.seq++
	c.ID = r.seq
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.mu.Unlock()

	handle, err := submit(ctx, c.ID)
	if err != nil {
		return err
	}
	c.SetTask(handle)

	r.mu.Lock()
	r.byID[c.ID] = *c
	r.mu.Unlock()
	return nil
}

func (r *Coverages) GetByID(ctx context.Context, id int64) (*models.Coverage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &c, nil
}

func (r *Coverages) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.Coverage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Coverage
	for id := range r.byID {
		c := r.byID[id]
		if want, ok := q.Filters["sample"]; ok && !matches(c.SampleID, want) {
			continue
		}
		if want, ok := q.Filters["data_source"]; ok && !matches(c.DataSourceID, want) {
			continue
		}
		if want, ok := q.Filters["sample.user"]; ok {
			sample, err := r.samples.GetByID(ctx, c.SampleID)
			if err != nil || !matches(sample.UserID, want) {
				continue
			}
		}
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *Coverages) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok || c.TaskUUID != expected {
		return fmt.Errorf("%w: task handle changed since read", apperrors.ErrConflict)
	}
	c.TaskUUID = next
	c.TaskDone = false
	r.byID[id] = c
	return nil
}

func (r *Coverages) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if ok && c.TaskUUID == handle {
		c.TaskDone = true
		r.byID[id] = c
	}
	return nil
}

func (r *Coverages) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// Annotations is an in-memory repositories.AnnotationRepository. Created
// annotated data sources are stored through the data sources fake.
type Annotations struct {
	mu          sync.Mutex
	seq         int64
	byID        map[int64]models.Annotation
	dataSources *DataSources
}

// NewAnnotations creates an empty in-memory annotation repository.
func NewAnnotations(dataSources *DataSources) *Annotations {
	return &Annotations{byID: make(map[int64]models.Annotation), dataSources: dataSources}
}

func (r *Annotations) CreateWithTask(ctx context.Context, annotated *models.DataSource, a *models.Annotation, submit func(ctx context.Context, id int64) (uuid.UUID, error)) error {
	if err := r.dataSources.Create(ctx, annotated); err != nil {
		return err
	}
	a.AnnotatedDataSourceID = annotated.ID

	r.mu.Lock()
	r.seq++
	a.ID = r.seq
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.mu.Unlock()

	handle, err := submit(ctx, a.ID)
	if err != nil {
		return err
	}
	a.SetTask(handle)

	r.mu.Lock()
	r.byID[a.ID] = *a
	r.mu.Unlock()
	return nil
}

func (r *Annotations) GetByID(ctx context.Context, id int64) (*models.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &a, nil
}

func (r *Annotations) List(ctx context.Context, q repositories.ListQuery) (int64, []*models.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Annotation
	for id := range r.byID {
		a := r.byID[id]
		if want, ok := q.Filters["user"]; ok && !matches(a.UserID, want) {
			continue
		}
		if want, ok := q.Filters["data_source"]; ok && !matches(a.DataSourceID, want) {
			continue
		}
		all = append(all, &a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total, page := window(all, q)
	return total, page, nil
}

func (r *Annotations) ReplaceTask(ctx context.Context, id int64, expected, next uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.TaskUUID != expected {
		return fmt.Errorf("%w: task handle changed since read", apperrors.ErrConflict)
	}
	a.TaskUUID = next
	a.TaskDone = false
	r.byID[id] = a
	return nil
}

func (r *Annotations) MarkTaskDone(ctx context.Context, id int64, handle uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if ok && a.TaskUUID == handle {
		a.TaskDone = true
		r.byID[id] = a
	}
	return nil
}

func (r *Annotations) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}
