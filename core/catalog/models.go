package catalog

import (
	"time"

	"github.com/trezcool/masomo-live/core/live"
)

// Collections
const (
	Courses      = "courses"
	StudyRooms   = "studyRooms"
	Applications = "teacherApplications"
)

// Application statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	Subjects = []string{
		"mathematics", "physics", "chemistry", "biology", "computer-science",
		"english", "french", "swahili", "history", "geography", "art", "music",
	}
	Levels = []string{"beginner", "intermediate", "advanced"}
)

func IsSubject(s string) bool { return contains(Subjects, s) }
func IsLevel(s string) bool   { return contains(Levels, s) }

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

type (
	Course struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Subject   string    `json:"subject"`
		Level     string    `json:"level"`
		TeacherID string    `json:"teacherId"`
		Published bool      `json:"published"`
		Enrolled  []string  `json:"enrolled"`
		Sponsors  []string  `json:"sponsors"`
		CreatedAt time.Time `json:"createdAt"`
	}

	StudyRoom struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		CourseID string   `json:"courseId"`
		HostID   string   `json:"hostId"`
		Members  []string `json:"members"`
		Open     bool     `json:"open"`
	}
)

func (c Course) Ref() live.Ref {
	return live.NewRef(Courses, c.ID)
}

// Fields returns the document form of c, without the id.
func (c Course) Fields() map[string]interface{} {
	return map[string]interface{}{
		"title":     c.Title,
		"subject":   c.Subject,
		"level":     c.Level,
		"teacherId": c.TeacherID,
		"published": c.Published,
		"enrolled":  stringsToList(c.Enrolled),
		"sponsors":  stringsToList(c.Sponsors),
		"createdAt": c.CreatedAt.UTC(),
	}
}

func (r StudyRoom) Ref() live.Ref {
	return live.NewRef(StudyRooms, r.ID)
}

func (r StudyRoom) Fields() map[string]interface{} {
	return map[string]interface{}{
		"name":     r.Name,
		"courseId": r.CourseID,
		"hostId":   r.HostID,
		"members":  stringsToList(r.Members),
		"open":     r.Open,
	}
}

func stringsToList(ss []string) []interface{} {
	list := make([]interface{}, 0, len(ss))
	for _, s := range ss {
		list = append(list, s)
	}
	return list
}
