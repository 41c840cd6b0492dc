package formats

import "mediaconvert/models"

// NormalizedFormat is the intermediate container legacy video inputs are
// transcoded to before any further work.
const NormalizedFormat = "mp4"

type RouteKind int

const (
	// Direct transcodes the stored original straight to the target.
	Direct RouteKind = iota
	// NormalizeThenDirect normalizes to the intermediate format, then runs a
	// direct conversion from it.
	NormalizeThenDirect
	// NormalizeOnly normalizes and finishes; the target is the intermediate format.
	NormalizeOnly
)

func (k RouteKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case NormalizeThenDirect:
		return "normalize_then_direct"
	case NormalizeOnly:
		return "normalize_only"
	}
	return "unknown"
}

// RoutingDecision says how a job is executed. IntermediateFormat is empty for Direct.
type RoutingDecision struct {
	Kind               RouteKind
	MediaKind          models.MediaKind
	SourceFormat       string
	IntermediateFormat string
	TargetFormat       string
}

// NeedsNormalization reports whether a first-stage transcode runs before the job starts.
func (d RoutingDecision) NeedsNormalization() bool {
	return d.Kind != Direct
}

// Route validates target against the classification and returns the single
// routing decision consumed by the engine. An incompatible pair yields
// *MismatchError; an unknown target yields ErrInvalidTargetFormat.
func Route(c Classification, target string) (RoutingDecision, error) {
	t, err := ParseTarget(target)
	if err != nil {
		return RoutingDecision{}, err
	}
	if !IsCompatible(c.Kind, t) {
		return RoutingDecision{}, &MismatchError{Kind: c.Kind, Target: t}
	}

	d := RoutingDecision{
		Kind:         Direct,
		MediaKind:    c.Kind,
		SourceFormat: c.Format,
		TargetFormat: t,
	}
	if !c.RequiresNormalization() {
		return d, nil
	}

	d.IntermediateFormat = NormalizedFormat
	if t == NormalizedFormat {
		d.Kind = NormalizeOnly
	} else {
		d.Kind = NormalizeThenDirect
	}
	return d, nil
}
