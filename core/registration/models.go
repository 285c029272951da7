package registration

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/catalog"
	"github.com/trezcool/masomo-live/core/stepflow"
)

// Degrees a teacher may hold
var Degrees = []string{"none", "diploma", "bachelor", "master", "doctorate"}

type (
	// PersonalDetails is step 1 of the application.
	PersonalDetails struct {
		FullName string `json:"fullName" validate:"required,notblank,max=120"`
		Email    string `json:"email" validate:"required,email"`
		Phone    string `json:"phone" validate:"required,phone"`
	}

	// TeachingProfile is step 2 of the application.
	TeachingProfile struct {
		Subjects          []string `json:"subjects" validate:"required,min=1,max=5,unique,dive,subject"`
		YearsOfExperience int      `json:"yearsOfExperience" validate:"gte=0,lte=60"`
		Degree            string   `json:"degree" validate:"required,oneof=none diploma bachelor master doctorate"`
	}

	// Motivation is step 3 of the application.
	Motivation struct {
		Statement   string `json:"statement" validate:"required,min=50,max=2000"`
		WeeklyHours int    `json:"weeklyHours" validate:"required,gte=1,lte=40"`
		AcceptTerms bool   `json:"acceptTerms" validate:"required"`
	}

	// Application is the draft edited through the steps.
	Application struct {
		Personal   PersonalDetails `json:"personal"`
		Profile    TeachingProfile `json:"profile"`
		Motivation Motivation      `json:"motivation"`
	}

	// View is the state of a session returned to clients.
	View struct {
		ID            string         `json:"id"`
		Flow          stepflow.State `json:"flow"`
		Error         string         `json:"error,omitempty"`
		Application   Application    `json:"application"`
		ApplicationID string         `json:"applicationId,omitempty"`
		UpdatedAt     time.Time      `json:"updatedAt"`
	}
)

// Fields returns the document stored on submission.
func (app Application) Fields(applicantID string, now time.Time) (map[string]interface{}, error) {
	b, err := json.Marshal(app)
	if err != nil {
		return nil, errors.Wrap(err, "json.Marshal()")
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, errors.Wrap(err, "json.Unmarshal()")
	}
	fields["applicantId"] = applicantID
	fields["status"] = catalog.StatusPending
	fields["createdAt"] = now.UTC()
	return fields, nil
}
