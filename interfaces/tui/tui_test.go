package tui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/domain/layout"
	"github.com/Steake/GodelOS-sub005/domain/messages"
	"github.com/Steake/GodelOS-sub005/infrastructure/config"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
)

func str(s string) *string { return &s }

func TestCanvasDrawsEdgesUnderNodes(t *testing.T) {
	c := NewCanvas(10, 3)
	nodes := []render.NodeGlyph{
		{ID: "A", Label: "A", X: 4, Y: 24, Color: "#ff0000"},
		{ID: "B", Label: "Beta", X: 68, Y: 24, Color: "#00ff00", Pinned: true},
		{ID: "C", X: 4, Y: 8, Hidden: true},
	}
	edges := []render.EdgeGlyph{{Key: "A->B#related", X1: 4, Y1: 24, X2: 68, Y2: 24}}
	c.Draw(nodes, edges)

	lines := strings.Split(c.Plain(), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Repeat(" ", 10), lines[0], "hidden nodes are not drawn")
	assert.Equal(t, "●·······◆ ", lines[1])
}

func TestCanvasLabelsSelection(t *testing.T) {
	c := NewCanvas(12, 1)
	c.Draw([]render.NodeGlyph{{ID: "A", Label: "Alpha", X: 4, Y: 8, Selected: true}}, nil)
	assert.Equal(t, "◉ Alpha     ", c.Plain())
	assert.NotEmpty(t, c.Render())
}

func TestCanvasClipsOutOfBounds(t *testing.T) {
	c := NewCanvas(4, 2)
	c.Draw(
		[]render.NodeGlyph{{ID: "far", X: 500, Y: 500}, {ID: "neg", X: -20, Y: 8}},
		[]render.EdgeGlyph{{X1: -100, Y1: -100, X2: 500, Y2: 500}},
	)
	assert.NotContains(t, c.Plain(), string(runeNode))
}

func TestCellAtRoundTrips(t *testing.T) {
	pt := CellAt(3, 5)
	col, row := toCell(pt.X, pt.Y)
	assert.Equal(t, 3, col)
	assert.Equal(t, 5, row)
}

func TestLatestKeepsNewest(t *testing.T) {
	l := newLatest()
	l.offer(engine.Status{Nodes: 1})
	l.offer(engine.Status{Nodes: 2})
	l.offer(engine.Status{Nodes: 3})
	assert.Equal(t, 3, (<-l.ch).Nodes)
	select {
	case <-l.ch:
		t.Fatal("only one status is kept")
	default:
	}
}

type tuiFixture struct {
	engine *engine.Engine
	scene  *render.Scene
	model  Model
}

func newTUIFixture(t *testing.T) *tuiFixture {
	t.Helper()
	cfg := config.Default(config.Test)
	cfg.Layout.Seed = 3
	logger := zaptest.NewLogger(t)

	e := engine.New(cfg, logger)
	t.Cleanup(e.Dispose)
	palette := render.NewPalette(cfg.Layout.ColorMode, time.Minute, time.Now)
	scene := render.NewScene(e.Model(), e.Simulation(), palette, render.NewViewport(640, 160, 600), 12)
	controller := render.NewController(e.Model(), e.Simulation(), scene, e, logger)
	e.Attach(scene)
	require.NoError(t, e.Init(context.Background()))

	envs := make([]messages.Envelope, 0, 3)
	for i, p := range []interface{}{
		messages.NodePayload{ID: "A", Label: str("Alpha")},
		messages.NodePayload{ID: "B", Label: str("Beta")},
		messages.EdgePayload{Source: "A", Target: "B"},
	} {
		typ := messages.TypeNodeUpsert
		if _, ok := p.(messages.EdgePayload); ok {
			typ = messages.TypeEdgeUpsert
		}
		env, err := messages.New(typ, "graph", p, time.Now())
		require.NoError(t, err)
		env.Seq = int64(i + 1)
		envs = append(envs, env)
	}
	require.NoError(t, e.Ingest(context.Background(), envs...))
	_, err := e.Settle(context.Background(), 1000)
	require.NoError(t, err)

	st, err := e.Status(context.Background())
	require.NoError(t, err)
	m := New(e, scene, controller, make(chan engine.Status), logger)
	m.status = st
	return &tuiFixture{engine: e, scene: scene, model: m}
}

func (f *tuiFixture) update(t *testing.T, msg tea.Msg) {
	t.Helper()
	next, _ := f.model.Update(msg)
	f.model = next.(Model)
}

// cellOf finds the terminal cell of a node, accounting for the status bar row
func (f *tuiFixture) cellOf(t *testing.T, id string) (int, int) {
	t.Helper()
	var col, row int
	found := false
	require.NoError(t, f.engine.Call(context.Background(), func() {
		for _, n := range f.scene.Nodes() {
			if n.ID == id {
				col, row = toCell(n.X, n.Y)
				found = true
			}
		}
	}))
	require.True(t, found)
	return col, row + 1
}

func TestModelRendersStatusAndGraph(t *testing.T) {
	f := newTUIFixture(t)
	f.update(t, tea.WindowSizeMsg{Width: 80, Height: 12})

	view := f.model.View()
	assert.Contains(t, view, "2 nodes")
	assert.Contains(t, view, "offline")
	assert.Contains(t, view, string(runeNode))

	st, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	f.update(t, statusMsg(st))
	assert.Contains(t, f.model.View(), "1 components")
}

func TestModelClickSelectsAndKeysAct(t *testing.T) {
	f := newTUIFixture(t)
	f.update(t, tea.WindowSizeMsg{Width: 80, Height: 12})

	col, row := f.cellOf(t, "A")
	f.update(t, tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	f.update(t, tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	require.NotNil(t, f.model.detail)
	assert.Equal(t, "A", f.model.detail.Node.ID)
	assert.Contains(t, f.model.View(), "Alpha")

	f.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	require.NotNil(t, f.model.detail)
	assert.True(t, f.model.detail.Pinned)

	f.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, f.model.detail)
	st, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Nodes)
}

func TestModelDragPinsWhileHeld(t *testing.T) {
	f := newTUIFixture(t)
	f.update(t, tea.WindowSizeMsg{Width: 80, Height: 12})

	col, row := f.cellOf(t, "B")
	f.update(t, tea.MouseMsg{X: col, Y: row, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	f.update(t, tea.MouseMsg{X: col + 5, Y: row, Action: tea.MouseActionMotion, Button: tea.MouseButtonLeft})

	require.NoError(t, f.engine.Call(context.Background(), func() {
		body, ok := f.engine.Simulation().Body("B")
		require.True(t, ok)
		assert.True(t, body.Pinned, "dragged node is pinned while held")
	}))

	f.update(t, tea.MouseMsg{X: col + 5, Y: row, Action: tea.MouseActionRelease, Button: tea.MouseButtonLeft})
	require.NoError(t, f.engine.Call(context.Background(), func() {
		body, _ := f.engine.Simulation().Body("B")
		assert.False(t, body.Pinned)
	}))
	assert.Nil(t, f.model.detail, "a drag is not a click")
}

func TestModelLayoutKeys(t *testing.T) {
	f := newTUIFixture(t)
	f.update(t, tea.WindowSizeMsg{Width: 80, Height: 12})

	f.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	f.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})

	st, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, layout.ModeForce3D, st.Layout.Mode)
	assert.Equal(t, layout.ColorByImportance, st.Layout.ColorMode)
	assert.True(t, f.scene.Viewport().Depth)

	_, cmd := f.model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}
