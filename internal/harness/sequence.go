package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hyperjump/vearchprobe/internal/client"
	"github.com/hyperjump/vearchprobe/internal/models"
)

// State is a stage of the test sequence against one database and space.
type State int

const (
	Unconfigured State = iota
	DatabaseCreated
	SpaceCreated
	PopulatedIndexBuilt
	Queried
	Mutated
	SpaceDeleted
	DatabaseDeleted
)

var stateNames = [...]string{
	"Unconfigured",
	"DatabaseCreated",
	"SpaceCreated",
	"PopulatedIndexBuilt",
	"Queried",
	"Mutated",
	"SpaceDeleted",
	"DatabaseDeleted",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	Unconfigured:        {DatabaseCreated},
	DatabaseCreated:     {SpaceCreated, DatabaseDeleted},
	SpaceCreated:        {PopulatedIndexBuilt, SpaceDeleted},
	PopulatedIndexBuilt: {Queried, Mutated, SpaceDeleted},
	Queried:             {Queried, Mutated, SpaceDeleted},
	Mutated:             {Mutated, Queried, SpaceDeleted},
	SpaceDeleted:        {SpaceCreated, DatabaseDeleted},
	DatabaseDeleted:     {DatabaseCreated},
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// Requirement is what a case needs from the sequence before it can run.
type Requirement int

const (
	NeedNothing Requirement = iota
	NeedDatabase
	NeedSpace
	NeedDocuments
)

func (r Requirement) String() string {
	switch r {
	case NeedDatabase:
		return "a database"
	case NeedSpace:
		return "a space"
	case NeedDocuments:
		return "a populated space"
	default:
		return "nothing"
	}
}

// Sequence tracks the stage of one database/space pair and what must be torn down. Names are
// remembered from the moment they are requested, so a create whose reply was lost is still cleaned up.
type Sequence struct {
	state State
	db    string
	space string

	dbRequested bool
	pending     []string
}

// NewSequence starts in Unconfigured for the given database.
func NewSequence(db string) *Sequence {
	return &Sequence{db: db}
}

// State returns the current stage.
func (s *Sequence) State() State {
	return s.state
}

// DB returns the database name.
func (s *Sequence) DB() string {
	return s.db
}

// Space returns the most recently named space.
func (s *Sequence) Space() string {
	return s.space
}

// RequestDatabase marks the database for teardown before its create request is sent.
func (s *Sequence) RequestDatabase() {
	s.dbRequested = true
}

// SetSpace names the space the next SpaceCreated refers to and marks it for teardown.
func (s *Sequence) SetSpace(name string) {
	s.space = name
	if !slices.Contains(s.pending, name) {
		s.pending = append(s.pending, name)
	}
}

// ForgetDatabase drops the database from teardown after the server refused to create it.
func (s *Sequence) ForgetDatabase() {
	if s.state == Unconfigured || s.state == DatabaseDeleted {
		s.dbRequested = false
	}
}

// ForgetSpace drops name from teardown after the server refused to create it.
func (s *Sequence) ForgetSpace(name string) {
	if s.SpaceLive() && s.space == name {
		return
	}
	s.pending = slices.DeleteFunc(s.pending, func(p string) bool { return p == name })
}

// Pending returns the space names requested and not yet confirmed deleted.
func (s *Sequence) Pending() []string {
	return slices.Clone(s.pending)
}

// Advance moves to next, or returns a *TransitionError.
func (s *Sequence) Advance(next State) error {
	for _, allowed := range transitions[s.state] {
		if allowed == next {
			s.state = next
			s.settle(next)
			return nil
		}
	}
	return &TransitionError{From: s.state, To: next}
}

func (s *Sequence) settle(next State) {
	switch next {
	case DatabaseCreated:
		s.dbRequested = true
	case SpaceDeleted:
		s.pending = slices.DeleteFunc(s.pending, func(name string) bool { return name == s.space })
	case DatabaseDeleted:
		s.dbRequested = false
		s.pending = nil
	}
}

// Populate records a write: the first write builds the index, later ones mutate it.
func (s *Sequence) Populate() error {
	if s.state == SpaceCreated {
		return s.Advance(PopulatedIndexBuilt)
	}
	return s.Advance(Mutated)
}

// DatabaseLive reports whether the database exists.
func (s *Sequence) DatabaseLive() bool {
	return s.state != Unconfigured && s.state != DatabaseDeleted
}

// SpaceLive reports whether the space exists.
func (s *Sequence) SpaceLive() bool {
	switch s.state {
	case SpaceCreated, PopulatedIndexBuilt, Queried, Mutated:
		return true
	}
	return false
}

// Satisfies reports whether a case with requirement r can run now.
func (s *Sequence) Satisfies(r Requirement) bool {
	switch r {
	case NeedDatabase:
		return s.DatabaseLive()
	case NeedSpace:
		return s.SpaceLive()
	case NeedDocuments:
		return s.state == PopulatedIndexBuilt || s.state == Queried || s.state == Mutated
	default:
		return true
	}
}

// Teardown deletes every space and the database that were requested and not confirmed deleted,
// spaces first, whatever the current state. Names the server reports as missing count as deleted.
// Every deletion is attempted even when an earlier one fails; the returned errors describe the ones
// that did not succeed.
func (s *Sequence) Teardown(ctx context.Context, c *client.Client) []error {
	var errs []error
	var kept []string
	for _, name := range s.pending {
		resp, err := c.DeleteSpace(ctx, s.db, name)
		if err := deleted(resp, err, models.CodeSpaceNotExists, models.CodeDBNotExists); err != nil {
			errs = append(errs, fmt.Errorf("delete space %s/%s: %w", s.db, name, err))
			kept = append(kept, name)
		}
	}
	s.pending = kept
	if s.SpaceLive() && !slices.Contains(kept, s.space) {
		s.state = SpaceDeleted
	}
	if !s.dbRequested {
		return errs
	}
	if len(kept) > 0 {
		// vearch refuses to drop a database that still holds spaces
		errs = append(errs, fmt.Errorf("delete db %s: spaces %s still exist", s.db, strings.Join(kept, ", ")))
		return errs
	}
	resp, err := c.DeleteDatabase(ctx, s.db)
	if err := deleted(resp, err, models.CodeDBNotExists); err != nil {
		errs = append(errs, fmt.Errorf("delete db %s: %w", s.db, err))
		return errs
	}
	s.dbRequested = false
	if s.state != Unconfigured {
		s.state = DatabaseDeleted
	}
	return errs
}

// rejected reports whether resp is a master reply refusing the request, so nothing was created.
// Bodies that are not master replies, such as a proxy error page, are not a refusal.
func rejected(resp *client.Response) bool {
	var reply models.MasterReply
	if err := resp.Decode(&reply); err != nil {
		return false
	}
	return reply.Code != 0 && reply.Code != models.CodeSuccess
}

// deleted accepts success and any of the gone codes.
func deleted(resp *client.Response, err error, gone ...int) error {
	if err != nil {
		return err
	}
	var reply models.MasterReply
	if err := resp.Decode(&reply); err != nil {
		return err
	}
	if reply.Code != models.CodeSuccess && !slices.Contains(gone, reply.Code) {
		return fmt.Errorf("code %d: %s", reply.Code, reply.Msg)
	}
	return nil
}
