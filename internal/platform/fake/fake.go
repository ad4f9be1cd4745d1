// Package fake provides an in-memory platform implementation. Tests use it
// to observe what the sync core asked the platform to do; the standalone
// binary falls back to it when no real platform adapter is configured.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/campusconnect/ecsbridge/internal/platform"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// Group mirrors one group created through the port.
type Group struct {
	ID       int64
	CourseID int64
	Title    string
	Comment  string
}

// Category mirrors one category node.
type Category struct {
	ID       int64
	Name     string
	ParentID int64
}

// Platform implements all platform ports backed by process memory.
type Platform struct {
	mu sync.Mutex

	nextID     int64
	courses    map[int64]platform.CourseData
	groups     map[int64]Group
	categories map[int64]Category
}

// New constructs an empty fake platform.
func New() *Platform {
	return &Platform{
		nextID:     1,
		courses:    make(map[int64]platform.CourseData),
		groups:     make(map[int64]Group),
		categories: make(map[int64]Category),
	}
}

// Ports returns the collaborator bundle backed by this fake.
func (p *Platform) Ports() platform.Ports {
	return platform.Ports{Courses: p, Groups: p, Categories: p}
}

func (p *Platform) allocate() int64 {
	id := p.nextID
	p.nextID++
	return id
}

// CreateCourse stores the course and returns its id.
func (p *Platform) CreateCourse(_ context.Context, data platform.CourseData) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.allocate()
	p.courses[id] = data
	return id, nil
}

// UpdateCourse replaces a stored course.
func (p *Platform) UpdateCourse(_ context.Context, id int64, data platform.CourseData) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.courses[id]; !ok {
		return appErrors.NewNotFound(fmt.Sprintf("course %d does not exist", id))
	}
	p.courses[id] = data
	return nil
}

// DeleteCourse removes a stored course and its groups.
func (p *Platform) DeleteCourse(_ context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.courses[id]; !ok {
		return appErrors.NewNotFound(fmt.Sprintf("course %d does not exist", id))
	}
	delete(p.courses, id)
	for gid, group := range p.groups {
		if group.CourseID == id {
			delete(p.groups, gid)
		}
	}
	return nil
}

// GetCourse returns a stored course.
func (p *Platform) GetCourse(_ context.Context, id int64) (platform.CourseData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.courses[id]
	if !ok {
		return platform.CourseData{}, appErrors.NewNotFound(fmt.Sprintf("course %d does not exist", id))
	}
	return data, nil
}

// CreateGroup stores a group under a course.
func (p *Platform) CreateGroup(_ context.Context, courseID int64, title, comment string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.courses[courseID]; !ok {
		return 0, appErrors.NewNotFound(fmt.Sprintf("course %d does not exist", courseID))
	}

	id := p.allocate()
	p.groups[id] = Group{ID: id, CourseID: courseID, Title: title, Comment: comment}
	return id, nil
}

// UpdateGroup renames or moves a stored group.
func (p *Platform) UpdateGroup(_ context.Context, groupID, courseID int64, title, comment string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.groups[groupID]; !ok {
		return appErrors.NewNotFound(fmt.Sprintf("group %d does not exist", groupID))
	}
	p.groups[groupID] = Group{ID: groupID, CourseID: courseID, Title: title, Comment: comment}
	return nil
}

// ResolveCategory finds a category by exact name below parentID, creating it
// on first use.
func (p *Platform) ResolveCategory(_ context.Context, name string, parentID int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, cat := range p.categories {
		if cat.Name == name && cat.ParentID == parentID {
			return id, nil
		}
	}

	id := p.allocate()
	p.categories[id] = Category{ID: id, Name: name, ParentID: parentID}
	return id, nil
}

// DeleteCategory removes a category node.
func (p *Platform) DeleteCategory(_ context.Context, id int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.categories[id]; !ok {
		return appErrors.NewNotFound(fmt.Sprintf("category %d does not exist", id))
	}
	delete(p.categories, id)
	return nil
}

// Course returns a copy of a stored course for assertions.
func (p *Platform) Course(id int64) (platform.CourseData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, ok := p.courses[id]
	return data, ok
}

// CourseCount reports how many courses currently exist.
func (p *Platform) CourseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.courses)
}

// GroupsForCourse lists groups attached to a course.
func (p *Platform) GroupsForCourse(courseID int64) []Group {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Group
	for _, group := range p.groups {
		if group.CourseID == courseID {
			out = append(out, group)
		}
	}
	return out
}

// CategoryByID returns a stored category for assertions.
func (p *Platform) CategoryByID(id int64) (Category, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cat, ok := p.categories[id]
	return cat, ok
}

// CategoryCount reports how many categories currently exist.
func (p *Platform) CategoryCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.categories)
}
