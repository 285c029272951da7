package core

type (
	// Logger is any service that can log application events.
	// args may contain errors, maps of extras, and at most one Person (the authenticated user).
	Logger interface {
		Debug(msg string, args ...interface{})
		Info(msg string, args ...interface{})
		Warn(msg string, args ...interface{})
		Error(msg string, args ...interface{})
		Fatal(msg string, args ...interface{})
	}

	// Person identifies the authenticated user an event relates to.
	Person struct {
		ID       string
		Username string
		Email    string
	}
)
