package ecs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// ResourceType names one family of ECS-hosted resources. The value doubles
// as the community-scoped URL path of the resource collection.
type ResourceType string

const (
	ResourceCourseLinks    ResourceType = "campusconnect/courselinks"
	ResourceCourses        ResourceType = "campusconnect/courses"
	ResourceDirectoryTrees ResourceType = "campusconnect/directory_trees"
	ResourceCourseMembers  ResourceType = "campusconnect/course_members"
)

// Event is one entry from the per-participant notification FIFO.
type Event struct {
	Resource string `json:"ressource"`
	Status   string `json:"status"`
}

// ParseEventResource splits the event's resource path into its type and id,
// e.g. "campusconnect/courselinks/4711" -> (ResourceCourseLinks, 4711).
func ParseEventResource(resource string) (ResourceType, int64, error) {
	trimmed := strings.Trim(resource, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", 0, appErrors.NewConnection(fmt.Sprintf("malformed event resource %q", resource), nil)
	}

	id, err := strconv.ParseInt(trimmed[idx+1:], 10, 64)
	if err != nil {
		return "", 0, appErrors.NewConnection(fmt.Sprintf("malformed event resource id in %q", resource), err)
	}

	return ResourceType(trimmed[:idx]), id, nil
}

// ResourceParty identifies one community member in a resource's routing
// details.
type ResourceParty struct {
	MID int `json:"mid"`
}

// ResourceDetails is the routing envelope of one resource: the memberships
// that sent it and those it was delivered to.
type ResourceDetails struct {
	Senders   []ResourceParty `json:"senders"`
	Receivers []ResourceParty `json:"receivers"`
}

// Membership describes one community the installation belongs to, together
// with all of its participants. Memberships are transient: the bridge
// rebuilds them from every query and only persists participant flags.
type Membership struct {
	Community    CommunityInfo     `json:"community"`
	Participants []ParticipantInfo `json:"participants"`
}

// CommunityInfo identifies a community on the ECS server.
type CommunityInfo struct {
	CID         int64  `json:"cid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParticipantInfo is one organisation's membership as reported by the ECS.
type ParticipantInfo struct {
	PID         int    `json:"pid"`
	MID         int    `json:"mid"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	DNS         string `json:"dns,omitempty"`
	Description string `json:"description,omitempty"`
	ItsYou      bool   `json:"itsyou"`
	Org         *Org   `json:"org,omitempty"`
}

// Org carries the organisation block of a participant.
type Org struct {
	Abbr string `json:"abbr,omitempty"`
	Name string `json:"name,omitempty"`
}

// CourseResource is the typed shape of a course (and course link) resource.
// Optional remote fields are pointers so absence survives a round trip.
type CourseResource struct {
	LectureID    string           `json:"lectureID,omitempty"`
	Title        string           `json:"title"`
	Organisation string           `json:"organisation,omitempty"`
	URL          string           `json:"url,omitempty"`
	BasicData    *CourseBasicData `json:"basicData,omitempty"`
	TimePlace    *TimePlace       `json:"timePlace,omitempty"`
	Lecturers    []Lecturer       `json:"lecturers,omitempty"`
	Groups       []ParallelGroup  `json:"groups,omitempty"`
	Allocations  []Allocation     `json:"allocations,omitempty"`
}

// CourseBasicData holds scheduling attributes shared by all parallel groups.
type CourseBasicData struct {
	ParallelGroupScenario *int     `json:"parallelGroupScenario,omitempty"`
	LectureType           string   `json:"lectureType,omitempty"`
	HoursPerWeek          *float64 `json:"hoursPerWeek,omitempty"`
	Credits               *float64 `json:"credits,omitempty"`
}

// TimePlace groups the schedule fields that are emitted together.
type TimePlace struct {
	Begin string `json:"begin,omitempty"`
	End   string `json:"end,omitempty"`
	Room  string `json:"room,omitempty"`
	Cycle string `json:"cycle,omitempty"`
}

// Lecturer is one teaching person attached to a course or parallel group.
type Lecturer struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// FullName returns the display name used when bucketing by lecturer.
func (l Lecturer) FullName() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

// ParallelGroup is one remote teaching section/cohort of a course.
type ParallelGroup struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Comment   *string    `json:"comment,omitempty"`
	Lecturers []Lecturer `json:"lecturers,omitempty"`
}

// Allocation places a course below a directory-tree node.
type Allocation struct {
	ParentID int64 `json:"parentID"`
	Order    int   `json:"order,omitempty"`
}

// DecodeCourse parses a raw course resource, validating required fields.
func DecodeCourse(raw json.RawMessage) (*CourseResource, error) {
	var course CourseResource
	if err := json.Unmarshal(raw, &course); err != nil {
		return nil, appErrors.NewConnection("malformed course resource", err)
	}
	if course.Title == "" {
		return nil, appErrors.NewConnection("course resource is missing a title", nil)
	}
	return &course, nil
}

// DirectoryTreeResource is the typed shape of a directory tree resource.
type DirectoryTreeResource struct {
	RootID      int64           `json:"rootID"`
	Title       string          `json:"directoryTreeTitle"`
	Term        string          `json:"term,omitempty"`
	Directories []DirectoryNode `json:"directories,omitempty"`
}

// DirectoryNode is one directory below the tree root.
type DirectoryNode struct {
	ID     int64            `json:"id"`
	Title  string           `json:"title"`
	Parent *DirectoryParent `json:"parent,omitempty"`
	Order  int              `json:"order,omitempty"`
}

// DirectoryParent references the enclosing directory node.
type DirectoryParent struct {
	ID int64 `json:"id"`
}

// DecodeDirectoryTree parses a raw directory tree resource, validating
// required fields.
func DecodeDirectoryTree(raw json.RawMessage) (*DirectoryTreeResource, error) {
	var tree DirectoryTreeResource
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, appErrors.NewConnection("malformed directory tree resource", err)
	}
	if tree.RootID == 0 {
		return nil, appErrors.NewConnection("directory tree resource is missing rootID", nil)
	}
	return &tree, nil
}

// Flatten converts arbitrary resource JSON into the dotted field→value map
// consumed by the metadata mapper and the filtering engine, e.g.
// {"timePlace":{"begin":"x"}} becomes {"timePlace.begin": "x"}. Arrays keep
// only their first element, matching how a single-valued mapping reads a
// lecturer list.
func Flatten(raw json.RawMessage) (map[string]string, error) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, appErrors.NewConnection("malformed resource metadata", err)
	}

	flat := make(map[string]string)
	flattenInto(flat, "", decoded)
	return flat, nil
}

func flattenInto(dst map[string]string, prefix string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			name := key
			if prefix != "" {
				name = prefix + "." + key
			}
			flattenInto(dst, name, child)
		}
	case []interface{}:
		if len(v) > 0 {
			flattenInto(dst, prefix, v[0])
		}
	case nil:
		// absent values stay absent; an empty string would wrongly satisfy
		// filter rules that match on "".
	case string:
		dst[prefix] = v
	case bool:
		dst[prefix] = strconv.FormatBool(v)
	case float64:
		dst[prefix] = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		dst[prefix] = fmt.Sprintf("%v", v)
	}
}
