package ledger

import "fmt"

// Logic is one revision of the ledger's validation rules. The record
// layout is stable across revisions; an upgrade swaps the Logic and
// runs an explicit migration over existing records, so the store keeps
// its identity while the rules evolve.
type Logic interface {
	// Version is the semantic version tag the ledger reports while
	// this logic is active.
	Version() string

	// Validate checks a submission against this revision's rules.
	Validate(sub Submission) error

	// Migrate adjusts previously written records to this revision's
	// expectations. It runs once during UpgradeLogic, under the
	// ledger write lock, before the revision takes effect. An error
	// aborts the upgrade and leaves the previous logic active.
	Migrate(records map[string]*Record) error
}

// CurrentLogic returns the validation logic shipped with this build.
func CurrentLogic() Logic { return logicV1{} }

type logicV1 struct{}

func (logicV1) Version() string { return "1.1.0" }

func (logicV1) Validate(sub Submission) error {
	if sub.RetrofitID == "" {
		return fmt.Errorf("retrofit id is required: %w", ErrInvalidInput)
	}
	if sub.PropertyRef == "" {
		return fmt.Errorf("property reference is required: %w", ErrInvalidInput)
	}
	if sub.EnergyRef == "" {
		return fmt.Errorf("energy reference is required: %w", ErrInvalidInput)
	}
	if len(sub.WorkTypes) == 0 {
		return fmt.Errorf("work types are required: %w", ErrInvalidInput)
	}
	if sub.RatingBefore >= sub.RatingAfter {
		return fmt.Errorf("rating must improve: before %d >= after %d: %w",
			sub.RatingBefore, sub.RatingAfter, ErrInvalidInput)
	}
	return nil
}

func (logicV1) Migrate(map[string]*Record) error { return nil }
