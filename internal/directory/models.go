package directory

// User is an account entry resolved from the directory. Mail is the
// address contacts are indexed under.
type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
}
