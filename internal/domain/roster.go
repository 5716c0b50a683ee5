package domain

// Participant is one roster slot: a display name and the avatar it last
// joined with.
type Participant struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Roster is the ordered-by-first-join list of participants in a room.
type Roster []Participant

// Names returns the participant names in roster order.
func (r Roster) Names() []string {
	names := make([]string, len(r))
	for i, p := range r {
		names[i] = p.Name
	}
	return names
}

// Avatar returns the avatar recorded for name.
func (r Roster) Avatar(name string) (string, bool) {
	for _, p := range r {
		if p.Name == name {
			return p.Avatar, true
		}
	}
	return "", false
}
