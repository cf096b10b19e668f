package core

// Level is the strength of a verification result
type Level int

const (
	LevelNone       Level = 0
	LevelRFC        Level = 1
	LevelFormat     Level = 1
	LevelMX         Level = 2
	LevelConnection Level = 3
	LevelDomain     Level = 4
	LevelUser       Level = 5
)

// PersistentCacheOffset is added to the level of results served from the
// persistent cache so the aggregator can tell them from fresh probes
const PersistentCacheOffset = 10

// Outcome is the direction of a result
type Outcome int

const (
	Indeterminate Outcome = iota
	Success
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return "indeterminate"
	}
}

// Provenance tells whether a result was probed now or read back from storage
type Provenance int

const (
	Fresh Provenance = iota
	Cached
)

// Result is the tagged form of a verification verdict
type Result struct {
	Level       Level
	Outcome     Outcome
	Provenance  Provenance
	Explanation string
}

// Code converts the result to the signed integer understood by the aggregator
func (r Result) Code() int {
	if r.Outcome == Indeterminate {
		return 0
	}
	code := int(r.Level)
	if r.Provenance == Cached {
		code += PersistentCacheOffset
	}
	if r.Outcome == Failure {
		code = -code
	}
	return code
}

// Verdict converts the result to the legacy wire contract
func (r Result) Verdict() Verdict {
	return Verdict{Score: r.Code(), Explanation: r.Explanation}
}

// Succeeded builds a fresh successful result
func Succeeded(level Level, explanation string) Result {
	return Result{Level: level, Outcome: Success, Explanation: explanation}
}

// Failed builds a fresh failed result
func Failed(level Level, explanation string) Result {
	return Result{Level: level, Outcome: Failure, Explanation: explanation}
}

// Undecided builds an indeterminate result
func Undecided(explanation string) Result {
	return Result{Outcome: Indeterminate, Explanation: explanation}
}

// ResultFromCode parses a stored signed code back into a result
func ResultFromCode(code int, explanation string, provenance Provenance) Result {
	r := Result{Provenance: provenance, Explanation: explanation}
	switch {
	case code > 0:
		r.Outcome = Success
	case code < 0:
		r.Outcome = Failure
		code = -code
	default:
		r.Outcome = Indeterminate
	}
	if code > PersistentCacheOffset {
		code -= PersistentCacheOffset
	}
	r.Level = Level(code)
	return r
}
