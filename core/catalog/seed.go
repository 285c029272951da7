package catalog

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/live"
)

// Demo users referenced by the seeded documents
const (
	DemoStudentID = "demo-student"
	DemoTeacherID = "demo-teacher"
	DemoSponsorID = "demo-sponsor"
)

// DemoCourses returns the courses written by Seed.
func DemoCourses(now time.Time) []Course {
	return []Course{
		{ID: "algebra-101", Title: "Algebra I", Subject: "mathematics", Level: "beginner", TeacherID: DemoTeacherID, Published: true,
			Enrolled: []string{DemoStudentID}, Sponsors: []string{DemoSponsorID}, CreatedAt: now.Add(-72 * time.Hour)},
		{ID: "mechanics-201", Title: "Classical Mechanics", Subject: "physics", Level: "intermediate", TeacherID: DemoTeacherID, Published: true,
			CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "kiswahili-101", Title: "Kiswahili kwa Wanaoanza", Subject: "swahili", Level: "beginner", TeacherID: "teacher-2", Published: true,
			Enrolled: []string{DemoStudentID}, CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "go-301", Title: "Concurrent Programming", Subject: "computer-science", Level: "advanced", TeacherID: DemoTeacherID,
			Sponsors: []string{DemoSponsorID}, CreatedAt: now},
	}
}

// DemoStudyRooms returns the study rooms written by Seed.
func DemoStudyRooms() []StudyRoom {
	return []StudyRoom{
		{ID: "algebra-evening", Name: "Algebra evening group", CourseID: "algebra-101", HostID: DemoStudentID, Members: []string{DemoStudentID}, Open: true},
		{ID: "mechanics-lab", Name: "Mechanics lab prep", CourseID: "mechanics-201", HostID: "student-2", Open: false},
	}
}

// Seed writes the demo catalog to store. Documents have fixed ids, so seeding twice is harmless.
func Seed(ctx context.Context, store live.Store, now time.Time) error {
	for _, c := range DemoCourses(now) {
		if err := store.Set(ctx, c.Ref(), c.Fields()); err != nil {
			return errors.Wrapf(err, "seeding course %s", c.ID)
		}
	}
	for _, r := range DemoStudyRooms() {
		if err := store.Set(ctx, r.Ref(), r.Fields()); err != nil {
			return errors.Wrapf(err, "seeding study room %s", r.ID)
		}
	}
	return nil
}
