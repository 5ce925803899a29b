package core

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
)

// Tag is an opaque, comparable label attached to a task for later lookup.
type Tag = any

type markerTag string

func (t markerTag) String() string { return string(t) }

// Well-known markers.
const (
	// TagTransient marks a task that may be forcibly cancelled along with the task
	// that submitted it.
	TagTransient = markerTag("TRANSIENT")
	// TagNonTransient explicitly opts a task out of transient handling.
	TagNonTransient = markerTag("NON-TRANSIENT")
	// TagInessential marks a child whose failure does not fail its composite.
	TagInessential = markerTag("INESSENTIAL")
	// TagEffectorCall marks an effector invocation.
	TagEffectorCall = markerTag("EFFECTOR")
	// TagSubTask marks a task that runs on behalf of another one.
	TagSubTask = markerTag("SUB-TASK")
)

// EntityTag identifies the entity a task belongs to.
type EntityTag struct {
	EntityID string
}

func (t EntityTag) String() string { return fmt.Sprintf("entity:%s", t.EntityID) }

// TargetEntity returns the tag for the entity with the given id.
func TargetEntity(id string) EntityTag {
	return EntityTag{EntityID: id}
}

func validateTag(tag Tag) error {
	if tag == nil {
		return errors.Wrap(ErrInvalidTag, "nil tag")
	}
	if !reflect.TypeOf(tag).Comparable() {
		return errors.Wrapf(ErrInvalidTag, "%T", tag)
	}
	return nil
}

func validateTags(tags []Tag) error {
	for _, tag := range tags {
		if err := validateTag(tag); err != nil {
			return err
		}
	}
	return nil
}
