package catalog

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/live"
)

type (
	// Filter narrows the public catalog. Empty fields are ignored.
	Filter struct {
		Subject string `query:"subject" json:"subject" validate:"omitempty,subject"`
		Level   string `query:"level" json:"level" validate:"omitempty,level"`
	}

	// Section is one live list of a dashboard.
	Section struct {
		Name  string
		Query live.Query
	}

	Dashboard struct {
		Role     core.Role
		Sections []Section
	}
)

// CatalogQuery returns the published courses, ordered by title.
func CatalogQuery(f Filter) live.Query {
	q := live.NewQuery(Courses).Where("published", live.OpEq, true)
	if f.Subject != "" {
		q = q.Where("subject", live.OpEq, f.Subject)
	}
	if f.Level != "" {
		q = q.Where("level", live.OpEq, f.Level)
	}
	return q.OrderBy("title", true)
}

// ApplicationsQuery returns the teacher applications with the given status, newest first.
func ApplicationsQuery(status string) live.Query {
	return live.NewQuery(Applications).
		Where("status", live.OpEq, status).
		OrderBy("createdAt", false)
}

// DashboardFor returns the live lists shown to the user on the dashboard of role.
func DashboardFor(role core.Role, userID string) (Dashboard, error) {
	d := Dashboard{Role: role}
	switch role {
	case core.RoleStudent:
		d.Sections = []Section{
			{Name: "courses", Query: live.NewQuery(Courses).Where("enrolled", live.OpArrayContains, userID).OrderBy("title", true)},
			{Name: "studyRooms", Query: live.NewQuery(StudyRooms).Where("open", live.OpEq, true).OrderBy("name", true)},
		}
	case core.RoleTeacher:
		d.Sections = []Section{
			{Name: "courses", Query: live.NewQuery(Courses).Where("teacherId", live.OpEq, userID).OrderBy("title", true)},
			{Name: "applications", Query: live.NewQuery(Applications).Where("applicantId", live.OpEq, userID).OrderBy("createdAt", false)},
		}
	case core.RoleSponsor:
		d.Sections = []Section{
			{Name: "courses", Query: live.NewQuery(Courses).Where("sponsors", live.OpArrayContains, userID).OrderBy("title", true)},
		}
	case core.RoleAdmin:
		d.Sections = []Section{
			{Name: "courses", Query: live.NewQuery(Courses).OrderBy("createdAt", false)},
			{Name: "pendingApplications", Query: ApplicationsQuery(StatusPending)},
		}
	default:
		return Dashboard{}, errors.Errorf("no dashboard for role %q", role)
	}
	return d, nil
}
