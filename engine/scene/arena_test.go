package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaHierarchyByIndex(t *testing.T) {
	a := NewArena()
	field, err := a.Add(NewField(), NoParent)
	require.NoError(t, err)
	player, err := a.Add(NewPlayer(mgl32.Vec3{0, 1, 0}), field)
	require.NoError(t, err)
	enemy, err := a.Add(NewEnemy(2), player)
	require.NoError(t, err)

	assert.Equal(t, ObjectID(0), field)
	assert.Equal(t, ObjectID(2), enemy)
	assert.Equal(t, NoParent, a.Parent(field))
	assert.Equal(t, player, a.Parent(enemy))
	assert.Equal(t, []ObjectID{player}, a.Children(field))
	assert.Equal(t, 3, a.Len())

	_, err = a.Add(NewEnemy(1), ObjectID(42))
	assert.Error(t, err)
	_, err = a.Add(nil, NoParent)
	assert.Error(t, err)
}

func TestArenaRemoveTombstonesSubtree(t *testing.T) {
	a := NewArena()
	field, _ := a.Add(NewField(), NoParent)
	player, _ := a.Add(NewPlayer(mgl32.Vec3{}), field)
	enemy, _ := a.Add(NewEnemy(2), player)
	other, _ := a.Add(NewEnemy(4), field)

	require.NoError(t, a.Remove(player))
	assert.False(t, a.Alive(player))
	assert.False(t, a.Alive(enemy))
	assert.True(t, a.Alive(other))
	assert.Equal(t, []ObjectID{other}, a.Children(field))
	assert.Equal(t, 2, a.Len())
	assert.Error(t, a.Remove(player))

	// Tombstoned indices are not reused.
	next, err := a.Add(NewEnemy(1), field)
	require.NoError(t, err)
	assert.Equal(t, ObjectID(4), next)

	var visited []ObjectID
	require.NoError(t, a.Each(func(id ObjectID, obj GameObject) error {
		visited = append(visited, id)
		return nil
	}))
	assert.Equal(t, []ObjectID{field, other, next}, visited)
}

func TestArenaWorldComposesParents(t *testing.T) {
	a := NewArena()
	field := NewField()
	field.Transform.SetPosition(mgl32.Vec3{10, 0, 0})
	fieldID, _ := a.Add(field, NoParent)
	playerID, _ := a.Add(NewPlayer(mgl32.Vec3{0, 1, 0}), fieldID)
	enemyID, _ := a.Add(NewEnemy(2), playerID)

	origin := a.World(enemyID).Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.InDelta(t, 12, origin.X(), 1e-5)
	assert.InDelta(t, 1, origin.Y(), 1e-5)
	assert.InDelta(t, 0, origin.Z(), 1e-5)
	assert.True(t, a.World(ObjectID(99)).ApproxEqual(mgl32.Ident4()))
}

func TestEnemyCirclesParent(t *testing.T) {
	e := NewEnemy(3)
	require.NoError(t, e.Update(float64(mgl32.DegToRad(90))))
	assert.InDelta(t, 0, e.Position().X(), 1e-5)
	assert.InDelta(t, 3, e.Position().Z(), 1e-5)
	assert.InDelta(t, 3, e.Position().Len(), 1e-5)
}

func TestArenaNames(t *testing.T) {
	a := NewArena()
	field, _ := a.Add(NewField(), NoParent)
	player, _ := a.Add(NewPlayer(mgl32.Vec3{}), field)

	name := a.Name(player)
	assert.NotEqual(t, a.Name(field), name)
	id, ok := a.Lookup(name)
	require.True(t, ok)
	assert.Equal(t, player, id)

	require.NoError(t, a.Remove(player))
	_, ok = a.Lookup(name)
	assert.False(t, ok)
	assert.Equal(t, uuid.Nil, a.Name(player))
}
