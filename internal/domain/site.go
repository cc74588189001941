package domain

// Site is one customer deployment: a set of servers monitored under its
// own upstream credentials. Sites are loaded once per run and never
// mutated afterwards.
type Site struct {
	// ID is the registry key for the site, unique within a run.
	ID string

	// Name is the human-readable display name.
	Name string

	// Servers is the ordered list of servers to report on. May be
	// empty when Discover is set, in which case the inventory is
	// fetched from the origin platform at run time.
	Servers []Server

	// Discover requests server inventory from the origin platform
	// instead of the static list above.
	Discover bool
}

// Server identifies one monitored machine within a site. The ID is the
// upstream-specific identifier; Name is the dimension value the insight
// service keys series by.
type Server struct {
	ID   string
	Name string
}
