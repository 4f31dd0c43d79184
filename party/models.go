package party

import "time"

// University is the educational institution side of an affiliation.
type University struct {
	ID         string
	Name       string
	City       string
	Accredited bool
	CreatedAt  time.Time
}

// Site is a clinical training site that hosts students under an affiliation.
type Site struct {
	ID        string
	Name      string
	City      string
	Capacity  int
	CreatedAt time.Time
}
