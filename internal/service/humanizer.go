package service

var fillers = []string{"", ".", "..", "..."}

// Humanizer varies outgoing text slightly so consecutive sends are not byte-identical.
type Humanizer struct {
	Rand Rand
}

func NewHumanizer(r Rand) *Humanizer {
	return &Humanizer{Rand: r}
}

// Humanize appends one filler picked uniformly at random.
func (h *Humanizer) Humanize(body string) string {
	return body + fillers[h.Rand.Intn(len(fillers))]
}
