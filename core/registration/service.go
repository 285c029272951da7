package registration

import (
	"context"
	"fmt"
	"net/mail"
	"sync"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/catalog"
	"github.com/trezcool/masomo-live/core/live"
	"github.com/trezcool/masomo-live/core/stepflow"
)

// DefaultTTL is the inactivity after which a session is discarded.
const DefaultTTL = 2 * time.Hour

// ErrSubmitted is returned when editing a submitted application.
var ErrSubmitted = errors.New("application already submitted")

// Decoder fills a step struct, eg. from a request body.
type Decoder func(v interface{}) error

// mockable
var nowFunc = func() time.Time { return time.Now().UTC() }

type (
	// Session is one applicant's draft driven by a step flow.
	Session struct {
		id      string
		ownerID string
		flow    *stepflow.Controller

		mu            sync.Mutex
		app           Application
		applicationID string
		updatedAt     time.Time
	}

	Service struct {
		store      live.Store
		emailSvc   core.EmailService
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
		ttl        time.Duration

		mu       sync.Mutex
		sessions map[string]*Session
	}
)

func NewService(
	store live.Store,
	emailSvc core.EmailService,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	return &Service{
		store:      store,
		emailSvc:   emailSvc,
		validate:   validate,
		translator: translator,
		logger:     logger,
		ttl:        DefaultTTL,
		sessions:   make(map[string]*Session),
	}
}

// Start opens a new session owned by the person, prefilled with their email.
func (svc *Service) Start(owner core.Person) View {
	s := &Session{
		id:        uuid.NewString(),
		ownerID:   owner.ID,
		updatedAt: nowFunc(),
	}
	s.app.Personal.Email = owner.Email
	s.flow = stepflow.New(svc.steps(s), func(ctx context.Context) error {
		return svc.submit(ctx, s, owner)
	})

	svc.mu.Lock()
	svc.sessions[s.id] = s
	svc.mu.Unlock()

	return s.view()
}

func (svc *Service) steps(s *Session) []stepflow.Step {
	return []stepflow.Step{
		{Name: "personal", Validate: func() error { return svc.validateStep(s, func(app *Application) interface{} { return app.Personal }) }},
		{Name: "profile", Validate: func() error { return svc.validateStep(s, func(app *Application) interface{} { return app.Profile }) }},
		{Name: "motivation", Validate: func() error { return svc.validateStep(s, func(app *Application) interface{} { return app.Motivation }) }},
	}
}

func (svc *Service) validateStep(s *Session, part func(app *Application) interface{}) error {
	s.mu.Lock()
	v := part(&s.app)
	s.mu.Unlock()
	if err := svc.validate.Struct(v); err != nil {
		return core.TranslateValidationErrors(err, svc.translator)
	}
	return nil
}

// session returns the session id owned by ownerID. Other owners get core.ErrNotFound.
func (svc *Service) session(ownerID, id string) (*Session, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	s, ok := svc.sessions[id]
	if !ok || s.ownerID != ownerID {
		return nil, core.ErrNotFound
	}
	return s, nil
}

func (svc *Service) Get(ownerID, id string) (View, error) {
	s, err := svc.session(ownerID, id)
	if err != nil {
		return View{}, err
	}
	return s.view(), nil
}

// SaveStep decodes the data of step into the draft. Only the current and previous steps may be edited,
// and a previous step is saved only when it is still valid.
func (svc *Service) SaveStep(ownerID, id string, step int, decode Decoder) (View, error) {
	s, err := svc.session(ownerID, id)
	if err != nil {
		return View{}, err
	}

	state := s.flow.State()
	if state.InFlight {
		return View{}, stepflow.ErrSubmitInFlight
	}
	if state.Outcome == stepflow.Submitted {
		return View{}, ErrSubmitted
	}
	if step < 1 || step > state.Step {
		return View{}, core.NewValidationError(errors.Errorf("step must be between 1 and %d", state.Step))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	app := s.app
	var target interface{}
	switch step {
	case 1:
		target = &app.Personal
	case 2:
		target = &app.Profile
	default:
		target = &app.Motivation
	}
	if err := decode(target); err != nil {
		return View{}, core.NewValidationError(errors.Wrap(err, "invalid step data"))
	}
	// the active step is validated by Advance; earlier steps have already been passed
	if step < state.Step {
		if err := svc.validate.Struct(target); err != nil {
			return View{}, core.TranslateValidationErrors(err, svc.translator)
		}
	}
	s.app = app
	s.updatedAt = nowFunc()
	return s.viewLocked(state), nil
}

// Advance validates the current step and moves forward, submitting from the last step.
// A failed submission is not an error: the view reports it for display and the applicant may retry.
func (svc *Service) Advance(ctx context.Context, ownerID, id string) (View, error) {
	s, err := svc.session(ownerID, id)
	if err != nil {
		return View{}, err
	}
	state, err := s.flow.Advance(ctx)
	s.touch()
	if stepflow.IsSubmitError(err) && state.Outcome == stepflow.Failed {
		err = nil
	}
	return s.view(), err
}

func (svc *Service) Retreat(ownerID, id string) (View, error) {
	s, err := svc.session(ownerID, id)
	if err != nil {
		return View{}, err
	}
	_, err = s.flow.Retreat()
	s.touch()
	return s.view(), err
}

// Discard closes and forgets the session. A running submission is cancelled.
func (svc *Service) Discard(ownerID, id string) error {
	s, err := svc.session(ownerID, id)
	if err != nil {
		return err
	}
	svc.mu.Lock()
	delete(svc.sessions, id)
	svc.mu.Unlock()
	s.flow.Close()
	return nil
}

// Sweep discards the sessions inactive for longer than the TTL and returns how many were removed.
func (svc *Service) Sweep() int {
	cutoff := nowFunc().Add(-svc.ttl)

	svc.mu.Lock()
	var expired []*Session
	for id, s := range svc.sessions {
		s.mu.Lock()
		idle := s.updatedAt.Before(cutoff)
		s.mu.Unlock()
		if idle && !s.flow.State().InFlight {
			expired = append(expired, s)
			delete(svc.sessions, id)
		}
	}
	svc.mu.Unlock()

	for _, s := range expired {
		s.flow.Close()
	}
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (svc *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Sweep(); n > 0 {
				svc.logger.Info(fmt.Sprintf("registration: discarded %d expired sessions", n))
			}
		}
	}
}

// Close discards every session.
func (svc *Service) Close() {
	svc.mu.Lock()
	sessions := svc.sessions
	svc.sessions = make(map[string]*Session)
	svc.mu.Unlock()

	for _, s := range sessions {
		s.flow.Close()
	}
}

// submit stores the application then confirms it by email.
func (svc *Service) submit(ctx context.Context, s *Session, owner core.Person) error {
	s.mu.Lock()
	app := s.app
	s.mu.Unlock()

	for _, part := range []interface{}{app.Personal, app.Profile, app.Motivation} {
		if err := svc.validate.Struct(part); err != nil {
			return core.TranslateValidationErrors(err, svc.translator)
		}
	}

	fields, err := app.Fields(owner.ID, nowFunc())
	if err != nil {
		return errors.Wrap(err, "app.Fields()")
	}
	ref, err := svc.store.Add(ctx, catalog.Applications, fields)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("registration: storing application: %v", err), err, owner)
		return errors.New("your application could not be sent, please try again")
	}

	s.mu.Lock()
	s.applicationID = ref.ID
	s.mu.Unlock()

	svc.emailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: app.Personal.FullName, Address: app.Personal.Email}},
		Subject:      "Your teacher application",
		TemplateName: "application_received",
		TemplateData: map[string]interface{}{
			"Name":          app.Personal.FullName,
			"ApplicationID": ref.ID,
			"Subjects":      app.Profile.Subjects,
		},
	})
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = nowFunc()
	s.mu.Unlock()
}

// view locks the flow before the session, never both: validation runs under the flow lock and takes the session lock.
func (s *Session) view() View {
	state := s.flow.State()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(state)
}

func (s *Session) viewLocked(state stepflow.State) View {
	v := View{
		ID:            s.id,
		Flow:          state,
		Application:   s.app,
		ApplicationID: s.applicationID,
		UpdatedAt:     s.updatedAt,
	}
	if state.Err != nil {
		v.Error = state.Err.Error()
	}
	return v
}
