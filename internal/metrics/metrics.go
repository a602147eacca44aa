package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	EntriesPlaced  Counter
	EntriesFailed  Counter
	StopsPlaced    Counter
	StopsFailed    Counter
	FillsDetected  Counter
	StopsArmed     Counter
	StopsFired     Counter
	LevelsRestored Counter
	TickErrors     Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		EntriesPlaced:  n,
		EntriesFailed:  n,
		StopsPlaced:    n,
		StopsFailed:    n,
		FillsDetected:  n,
		StopsArmed:     n,
		StopsFired:     n,
		LevelsRestored: n,
		TickErrors:     n,
	}
}
