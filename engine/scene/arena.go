package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/spaghettifunk/ember/engine/core"
)

// ObjectID indexes an arena slot. IDs are never reused.
type ObjectID int

const NoParent ObjectID = -1

type slot struct {
	object   GameObject
	name     uuid.UUID
	parent   ObjectID
	children []ObjectID
	alive    bool
}

// Arena owns the objects of a scene. Hierarchy links are slot indices; every live
// object also has a stable name.
type Arena struct {
	slots []slot
	live  int
	names *core.Identifiers
}

func NewArena() *Arena {
	return &Arena{names: core.NewIdentifiers()}
}

// Add stores obj under parent, NoParent for a root.
func (a *Arena) Add(obj GameObject, parent ObjectID) (ObjectID, error) {
	if obj == nil {
		return NoParent, fmt.Errorf("nil game object")
	}
	if parent != NoParent && !a.Alive(parent) {
		return NoParent, fmt.Errorf("parent %d is not a live object", parent)
	}
	id := ObjectID(len(a.slots))
	a.slots = append(a.slots, slot{object: obj, name: a.names.Acquire(id), parent: parent, alive: true})
	if parent != NoParent {
		a.slots[parent].children = append(a.slots[parent].children, id)
	}
	a.live++
	return id, nil
}

// Remove tombstones id and its whole subtree.
func (a *Arena) Remove(id ObjectID) error {
	if !a.Alive(id) {
		return fmt.Errorf("object %d is not live", id)
	}
	if p := a.slots[id].parent; p != NoParent {
		siblings := a.slots[p].children
		for i, c := range siblings {
			if c == id {
				a.slots[p].children = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	a.tombstone(id)
	return nil
}

func (a *Arena) tombstone(id ObjectID) {
	s := &a.slots[id]
	for _, c := range s.children {
		a.tombstone(c)
	}
	if err := a.names.Release(s.name); err != nil {
		core.LogWarn("%s", err)
	}
	*s = slot{parent: NoParent}
	a.live--
}

func (a *Arena) Alive(id ObjectID) bool {
	return id >= 0 && int(id) < len(a.slots) && a.slots[id].alive
}

func (a *Arena) Get(id ObjectID) (GameObject, bool) {
	if !a.Alive(id) {
		return nil, false
	}
	return a.slots[id].object, true
}

func (a *Arena) Name(id ObjectID) uuid.UUID {
	if !a.Alive(id) {
		return uuid.Nil
	}
	return a.slots[id].name
}

// Lookup finds a live object by name.
func (a *Arena) Lookup(name uuid.UUID) (ObjectID, bool) {
	owner, ok := a.names.Owner(name)
	if !ok {
		return NoParent, false
	}
	return owner.(ObjectID), true
}

func (a *Arena) Parent(id ObjectID) ObjectID {
	if !a.Alive(id) {
		return NoParent
	}
	return a.slots[id].parent
}

func (a *Arena) Children(id ObjectID) []ObjectID {
	if !a.Alive(id) {
		return nil
	}
	return append([]ObjectID(nil), a.slots[id].children...)
}

// Len is the number of live objects.
func (a *Arena) Len() int { return a.live }

// Each visits live objects in index order and stops at the first error.
func (a *Arena) Each(fn func(id ObjectID, obj GameObject) error) error {
	for i := range a.slots {
		if !a.slots[i].alive {
			continue
		}
		if err := fn(ObjectID(i), a.slots[i].object); err != nil {
			return err
		}
	}
	return nil
}

// World composes the local transforms from the root down to id.
func (a *Arena) World(id ObjectID) mgl32.Mat4 {
	world := mgl32.Ident4()
	for cur := id; a.Alive(cur); cur = a.slots[cur].parent {
		world = a.slots[cur].object.transform().Local().Mul4(world)
	}
	return world
}
