// Package platform defines the narrow interfaces the sync core needs from
// the hosting learning-management platform. The platform's own account,
// permission and rendering machinery stays on the other side of these ports.
package platform

import (
	"context"
	"time"
)

// CourseData is the canonical local representation of a course handed across
// the platform boundary. The metadata mapper fills it from remote resources
// and reads it back when exporting.
type CourseData struct {
	Fullname  string
	Shortname string
	IDNumber  string
	Summary   string

	StartDate *time.Time
	EndDate   *time.Time

	CategoryID int64

	// RedirectURL is set on link-type imports: the local course only
	// forwards users to the remote course at this address.
	RedirectURL string
}

// CoursePort creates, updates and removes courses on the platform.
type CoursePort interface {
	CreateCourse(ctx context.Context, data CourseData) (int64, error)
	UpdateCourse(ctx context.Context, id int64, data CourseData) error
	DeleteCourse(ctx context.Context, id int64) error
	GetCourse(ctx context.Context, id int64) (CourseData, error)
}

// GroupPort manages sub-groups within a platform course.
type GroupPort interface {
	CreateGroup(ctx context.Context, courseID int64, title, comment string) (int64, error)
	UpdateGroup(ctx context.Context, groupID, courseID int64, title, comment string) error
}

// CategoryPort resolves course categories by exact name below a parent,
// creating missing ones on first use.
type CategoryPort interface {
	ResolveCategory(ctx context.Context, name string, parentID int64) (int64, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// Ports bundles all collaborator interfaces for components that need the
// full boundary.
type Ports struct {
	Courses    CoursePort
	Groups     GroupPort
	Categories CategoryPort
}
