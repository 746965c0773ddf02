// Package tui is a terminal view of the live graph with mouse drag and pinning
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/Steake/GodelOS-sub005/application/engine"
	"github.com/Steake/GodelOS-sub005/domain/layout"
	"github.com/Steake/GodelOS-sub005/infrastructure/stream"
	"github.com/Steake/GodelOS-sub005/interfaces/render"
)

// callTimeout bounds every round trip to the engine loop
const callTimeout = time.Second

// chromeRows is the number of rows used by the status and detail bars
const chromeRows = 2

var (
	modeKeys = map[string]layout.Mode{
		"1": layout.ModeForce2D,
		"2": layout.ModeForce3D,
		"3": layout.ModeHierarchical,
		"4": layout.ModeCircular,
	}
	panSteps = map[string]render.Point{
		"left":  {X: cellWidth * 4},
		"right": {X: -cellWidth * 4},
		"up":    {Y: cellHeight * 2},
		"down":  {Y: -cellHeight * 2},
	}
	colorCycle = []layout.ColorMode{
		layout.ColorByCategory,
		layout.ColorByImportance,
		layout.ColorByRecency,
		layout.ColorByConfidence,
	}
)

type theme struct {
	bar       lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
	bad       lipgloss.Style
	muted     lipgloss.Style
	highlight lipgloss.Style
}

func newTheme() theme {
	return theme{
		bar:       lipgloss.NewStyle().Foreground(lipgloss.Color("#e5e7eb")).Background(lipgloss.Color("#1f2937")),
		ok:        lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e")).Bold(true),
		warn:      lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b")).Bold(true),
		bad:       lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af")),
		highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#38bdf8")).Bold(true),
	}
}

type statusMsg engine.Status

// Model is the bubbletea model of the terminal view
type Model struct {
	engine     *engine.Engine
	scene      *render.Scene
	controller *render.Controller
	updates    <-chan engine.Status
	logger     *zap.Logger
	theme      theme

	width, height int
	canvas        string
	status        engine.Status
	detail        *render.NodeDetail
	dragging      bool
	showHelp      bool
	err           error
}

// New creates a terminal model. updates delivers engine status changes.
func New(e *engine.Engine, scene *render.Scene, controller *render.Controller, updates <-chan engine.Status, logger *zap.Logger) Model {
	return Model{
		engine:     e,
		scene:      scene,
		controller: controller,
		updates:    updates,
		logger:     logger.Named("tui"),
		theme:      newTheme(),
	}
}

// Init starts listening for engine updates
func (m Model) Init() tea.Cmd {
	return m.waitForStatus()
}

func (m Model) waitForStatus() tea.Cmd {
	return func() tea.Msg {
		st, ok := <-m.updates
		if !ok {
			return tea.Quit()
		}
		return statusMsg(st)
	}
}

func (m Model) canvasRows() int {
	return max(m.height-chromeRows, 1)
}

// Update handles terminal input and engine updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.refresh()

	case statusMsg:
		m.status = engine.Status(msg)
		m.refresh()
		return m, m.waitForStatus()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		m.refresh()
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return *m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
	case "esc":
		m.interact(func() error {
			m.controller.ClearSelection()
			return nil
		})
	case "p":
		if m.detail != nil {
			id := m.detail.Node.ID
			m.interact(func() error {
				_, err := m.controller.TogglePin(id)
				return err
			})
		}
	case "x", "delete":
		if m.detail != nil {
			id := m.detail.Node.ID
			m.interact(func() error { return m.controller.Delete(id) })
		}
	case "c":
		m.cycleColorMode()
	case "left", "right", "up", "down":
		step := panSteps[key]
		m.interact(func() error {
			m.scene.PanBy(step.X, step.Y)
			return nil
		})
	case "+", "=", "-":
		factor := 1.25
		if key == "-" {
			factor = 0.8
		}
		m.zoom(factor, m.center())
	default:
		if mode, ok := modeKeys[key]; ok {
			m.setMode(mode)
		}
	}
	m.refresh()
	return *m, nil
}

func (m *Model) handleMouse(msg tea.MouseMsg) {
	row := msg.Y - 1
	pt := CellAt(msg.X, row)

	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		m.zoom(1.1, pt)
	case msg.Button == tea.MouseButtonWheelDown:
		m.zoom(1/1.1, pt)
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		if row < 0 || row >= m.canvasRows() {
			return
		}
		m.dragging = true
		m.pointer(render.PointerEvent{Phase: render.PhaseDown, X: pt.X, Y: pt.Y})
	case msg.Action == tea.MouseActionMotion && m.dragging:
		m.pointer(render.PointerEvent{Phase: render.PhaseMove, X: pt.X, Y: pt.Y})
	case msg.Action == tea.MouseActionRelease && m.dragging:
		m.dragging = false
		m.pointer(render.PointerEvent{Phase: render.PhaseUp, X: pt.X, Y: pt.Y})
	}
}

func (m *Model) pointer(ev render.PointerEvent) {
	m.interact(func() error { return m.controller.Pointer(ev) })
}

func (m *Model) zoom(factor float64, at render.Point) {
	m.interact(func() error {
		m.scene.ZoomAt(factor, at)
		return nil
	})
}

func (m *Model) center() render.Point {
	cols, rows := m.width, m.canvasRows()
	return CellAt(cols/2, rows/2)
}

func (m *Model) setMode(mode layout.Mode) {
	opts := m.status.Layout
	opts.Mode = mode
	m.setLayout(opts)
}

func (m *Model) cycleColorMode() {
	opts := m.status.Layout
	next := colorCycle[0]
	for i, mode := range colorCycle {
		if mode == opts.ColorMode {
			next = colorCycle[(i+1)%len(colorCycle)]
		}
	}
	opts.ColorMode = next
	m.setLayout(opts)
}

func (m *Model) setLayout(opts layout.Options) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := m.engine.SetLayoutOptions(ctx, opts); err != nil {
		m.err = err
		return
	}
	m.status.Layout = opts
}

// interact runs fn on the engine loop and keeps the error for the status bar
func (m *Model) interact(fn func() error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := m.engine.Interact(ctx, fn); err != nil {
		m.err = err
		m.logger.Debug("Gesture failed", zap.Error(err))
		return
	}
	m.err = nil
}

// resize fits the scene viewport to the terminal, keeping zoom and pan
func (m *Model) resize() {
	cols, rows := m.width, m.canvasRows()
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	err := m.engine.Call(ctx, func() {
		vp := m.scene.Viewport()
		vp.Width, vp.Height = float64(cols)*cellWidth, float64(rows)*cellHeight
		m.scene.SetViewport(vp)
	})
	if err != nil {
		m.err = err
	}
}

// refresh rasterizes the scene and reads the selection
func (m *Model) refresh() {
	if m.width == 0 {
		return
	}
	canvas := NewCanvas(m.width, m.canvasRows())
	var detail *render.NodeDetail
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	err := m.engine.Call(ctx, func() {
		if m.scene.Dirty() {
			m.scene.Frame()
		}
		canvas.Draw(m.scene.Nodes(), m.scene.Edges())
		if d, ok := m.controller.Selected(); ok {
			detail = &d
		}
	})
	if err != nil {
		m.err = err
		return
	}
	m.canvas = canvas.Render()
	m.detail = detail
}

// View renders the status bar, the graph and the detail bar
func (m Model) View() string {
	if m.width == 0 {
		return "starting..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.statusBar(), m.canvas, m.detailBar())
}

func (m Model) statusBar() string {
	var conn string
	switch m.status.Connection {
	case stream.Connected:
		conn = m.theme.ok.Render("● connected")
	case stream.Reconnecting:
		conn = m.theme.warn.Render(fmt.Sprintf("● reconnecting in %dms", m.status.RetryInMs))
	case stream.Connecting:
		conn = m.theme.warn.Render("● connecting")
	default:
		conn = m.theme.bad.Render("● offline")
	}
	parts := []string{
		conn,
		fmt.Sprintf("%d nodes", m.status.Nodes),
		fmt.Sprintf("%d edges", m.status.Edges),
		fmt.Sprintf("%d components", m.status.Components.Count),
		fmt.Sprintf("%s/%s", m.status.Layout.Mode, m.status.Layout.ColorMode),
	}
	if m.status.Active {
		parts = append(parts, fmt.Sprintf("α %.3f", m.status.Alpha))
	}
	if m.status.Stale() && m.status.Nodes > 0 {
		parts = append(parts, m.theme.warn.Render("stale"))
	}
	return m.theme.bar.Width(m.width).MaxHeight(1).Render(strings.Join(parts, "  "))
}

func (m Model) detailBar() string {
	if m.err != nil {
		return m.theme.bad.Width(m.width).MaxHeight(1).Render(m.err.Error())
	}
	if m.showHelp {
		return m.theme.muted.Width(m.width).MaxHeight(1).Render(
			"drag: move+pin  click: select  p: pin  x: delete  1-4: layout  c: colors  +/-/wheel: zoom  arrows: pan  q: quit")
	}
	if m.detail == nil {
		return m.theme.muted.Width(m.width).MaxHeight(1).Render("? for help")
	}
	n := m.detail.Node
	text := fmt.Sprintf("%s  [%s]  importance %.2f  confidence %.2f  degree %d",
		m.theme.highlight.Render(n.DisplayName()), n.Category, n.Importance, n.Confidence, m.detail.Degree)
	if m.detail.Pinned {
		text += "  pinned"
	}
	return m.theme.bar.Width(m.width).MaxHeight(1).Render(text)
}
